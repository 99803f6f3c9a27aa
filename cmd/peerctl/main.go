// Package main provides peerctl, a command-line game client for exercising a running
// host: it announces identities, sends heartbeats, fetches map sets and prints traffic.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
