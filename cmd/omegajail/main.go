// Command omegajail executes untrusted programs (contest submissions and
// their compilers) under resource, syscall and namespace constraints, and
// reports the outcome as a machine-readable metadata record.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"omegajail/container"
	"omegajail/jail"
)

// The re-executed binary becomes the in-container init before the flag
// surface ever runs.
func init() {
	container.Init()
}

func main() {
	pol, err := parseArgs(os.Args[1:])
	if err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(jail.Run(pol))
}
