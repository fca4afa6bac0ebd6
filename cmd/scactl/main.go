// Command scactl inspects and drives the offline asset cache without the
// edge server running.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
