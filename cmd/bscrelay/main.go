// Command bscrelay runs a BNB Smart Chain header relay.
//
// Usage:
//
//	bscrelay [command] [flags]
//
// Commands:
//
//	init     Pick a genesis from the source chain and initialise the relay
//	run      Serve the relay over JSON-RPC and follow the source chain
//	version  Print version information
//
// Every flag has a config file key and a BSCRELAY_* environment variable,
// e.g. --rpc.port, rpc.port and BSCRELAY_RPC_PORT.
package main

import (
	"fmt"
	"os"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	cmd := newRootCommand(newApp())
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}
	return 0
}
