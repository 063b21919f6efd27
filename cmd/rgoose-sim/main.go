// Command rgoose-sim is a demonstration harness pairing the two halves of
// original_source's ied_send/ied_recv duo as subcommands of one binary:
// "send" publishes control blocks from textual data files, "recv" decodes
// and prints what it receives.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "send":
		runSend(os.Args[2:])
	case "recv":
		runRecv(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <send|recv> <SED file> <interface name> <IED name>\n", os.Args[0])
}
