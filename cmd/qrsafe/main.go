// Command qrsafe is the device-side client: it assesses scanned payloads,
// keeps the local scan history and casts votes, replicating them to a
// remote qrsafe server when REMOTE_URL is set.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
