// Command stdio-mux multiplexes the stdio streams of several sandboxed
// programs into a single output file. Programs connect to a unix
// SOCK_SEQPACKET socket (their stdout/stderr redirected there by omegajail);
// every packet is copied out as a length-prefixed frame carrying the stream
// id and a microsecond timestamp, so interleavings survive for later
// reconstruction.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

func main() {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := serve(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
