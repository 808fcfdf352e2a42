// Command reportflow tracks report lineage, shows submission history and
// schedules batch work for receivers.
package main

import (
	"os"

	"github.com/roach88/reportflow/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
