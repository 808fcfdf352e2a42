// Package settings provides organization and receiver configuration: which
// receivers exist, their topic and format, and their batch timing.
//
// Settings are loaded once from YAML and passed explicitly to the components
// that need them through the Provider interface.
package settings
