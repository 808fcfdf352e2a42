package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/reportflow/internal/ir"
)

var (
	// ErrReceiverNotFound is returned when no receiver has the requested full name.
	ErrReceiverNotFound = errors.New("receiver not found")

	// ErrOrganizationNotFound is returned when no organization has the requested name.
	ErrOrganizationNotFound = errors.New("organization not found")
)

// Organization is a sending and/or receiving party.
type Organization struct {
	Name         string     `yaml:"name" json:"name"`
	Description  string     `yaml:"description" json:"description"`
	Jurisdiction string     `yaml:"jurisdiction,omitempty" json:"jurisdiction,omitempty"`
	Receivers    []Receiver `yaml:"receivers,omitempty" json:"receivers,omitempty"`
}

// Receiver is one service of an organization that reports are delivered to.
type Receiver struct {
	Name             string    `yaml:"name" json:"name"`
	OrganizationName string    `yaml:"-" json:"organization_name"`
	Topic            Topic     `yaml:"topic" json:"topic"`
	Format           ir.Format `yaml:"format" json:"format"`
	Timing           *Timing   `yaml:"timing,omitempty" json:"timing,omitempty"`

	// Transport names how reports are delivered ("sftp", "rest", ...).
	// Empty means the receiver only downloads.
	Transport string `yaml:"transport,omitempty" json:"transport,omitempty"`
}

// FullName returns "org.svc".
func (r Receiver) FullName() string {
	return ir.ReceiverFullName(r.OrganizationName, r.Name)
}

// HasTransport reports whether reports are pushed to the receiver.
func (r Receiver) HasTransport() bool {
	return r.Transport != ""
}

// Provider resolves organizations and receivers.
type Provider interface {
	// Receivers returns every receiver ordered by full name.
	Receivers() []Receiver

	// FindReceiver looks up a receiver by "org.svc".
	FindReceiver(fullName string) (Receiver, error)

	// FindOrganizationAndReceiver looks up a receiver and its owning organization.
	FindOrganizationAndReceiver(fullName string) (Organization, Receiver, error)
}

// Settings is an immutable, in-memory Provider.
type Settings struct {
	orgs      map[string]Organization
	receivers map[string]Receiver
	names     []string
}

var _ Provider = (*Settings)(nil)

// file is the YAML document layout.
type file struct {
	Organizations []Organization `yaml:"organizations"`
}

// Load reads settings from a YAML file.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load settings %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes settings from YAML.
func Parse(data []byte) (*Settings, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return New(f.Organizations...)
}

// New builds settings from organizations.
// Organization and receiver names must be unique, non-empty and must not
// contain the full-name separator. Receivers with a topic must use a known one.
func New(orgs ...Organization) (*Settings, error) {
	s := &Settings{
		orgs:      make(map[string]Organization, len(orgs)),
		receivers: make(map[string]Receiver),
	}

	for _, org := range orgs {
		if org.Name == "" || strings.Contains(org.Name, ir.FullNameSeparator) {
			return nil, fmt.Errorf("invalid organization name %q", org.Name)
		}
		if _, dup := s.orgs[org.Name]; dup {
			return nil, fmt.Errorf("duplicate organization %q", org.Name)
		}

		receivers := make([]Receiver, 0, len(org.Receivers))
		for _, r := range org.Receivers {
			r.OrganizationName = org.Name
			if r.Name == "" || strings.Contains(r.Name, ir.FullNameSeparator) {
				return nil, fmt.Errorf("organization %q: invalid receiver name %q", org.Name, r.Name)
			}
			if r.Topic != "" && !ValidTopics[r.Topic] {
				return nil, fmt.Errorf("receiver %q: unknown topic %q", r.FullName(), r.Topic)
			}
			if _, dup := s.receivers[r.FullName()]; dup {
				return nil, fmt.Errorf("duplicate receiver %q", r.FullName())
			}
			s.receivers[r.FullName()] = r
			s.names = append(s.names, r.FullName())
			receivers = append(receivers, r)
		}
		org.Receivers = receivers
		s.orgs[org.Name] = org
	}

	slices.Sort(s.names)
	return s, nil
}

// Receivers returns every receiver ordered by full name.
func (s *Settings) Receivers() []Receiver {
	out := make([]Receiver, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.receivers[name])
	}
	return out
}

// FindReceiver looks up a receiver by "org.svc".
func (s *Settings) FindReceiver(fullName string) (Receiver, error) {
	r, ok := s.receivers[fullName]
	if !ok {
		return Receiver{}, fmt.Errorf("%q: %w", fullName, ErrReceiverNotFound)
	}
	return r, nil
}

// FindOrganizationAndReceiver looks up a receiver and its owning organization.
func (s *Settings) FindOrganizationAndReceiver(fullName string) (Organization, Receiver, error) {
	r, err := s.FindReceiver(fullName)
	if err != nil {
		return Organization{}, Receiver{}, err
	}
	org, ok := s.orgs[r.OrganizationName]
	if !ok {
		return Organization{}, Receiver{}, fmt.Errorf("%q: %w", r.OrganizationName, ErrOrganizationNotFound)
	}
	return org, r, nil
}

// FindOrganization looks up an organization by name.
func (s *Settings) FindOrganization(name string) (Organization, error) {
	org, ok := s.orgs[name]
	if !ok {
		return Organization{}, fmt.Errorf("%q: %w", name, ErrOrganizationNotFound)
	}
	return org, nil
}
