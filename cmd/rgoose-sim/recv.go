package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	log "github.com/sirupsen/logrus"

	ied "github.com/rgoose90/ied"
	"github.com/rgoose90/ied/sed"
	"github.com/rgoose90/ied/session"
	"github.com/rgoose90/ied/transport"
)

// runRecv mirrors original_source's ied_recv.cpp: subscribe to every
// control block the named IED is listed as a subscriber of, decode every
// datagram received, and print the result.
func runRecv(args []string) {
	fs := flag.NewFlagSet("recv", flag.ExitOnError)
	verbose := fs.Bool("v", false, "enable debug logging")
	fs.Parse(args)

	log.SetLevel(log.InfoLevel)
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if fs.NArg() != 3 {
		fmt.Fprintf(os.Stderr, "usage: %s recv <SED file> <interface name> <IED name>\n", os.Args[0])
		os.Exit(1)
	}
	sedPath, ifName, iedName := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	blocks, err := sed.Load(sedPath)
	if err != nil {
		log.Errorf("loading SED file %q: %v", sedPath, err)
		os.Exit(1)
	}

	var subscribed []*ied.ControlBlock
	for _, cb := range blocks {
		for _, sub := range cb.Subscribers {
			if sub == iedName {
				subscribed = append(subscribed, cb)
				break
			}
		}
	}
	if len(subscribed) == 0 {
		fmt.Printf("%s has no control block(s) to subscribe to.\n", iedName)
		fmt.Printf("Please check configuration in %s. Exiting program now...\n", sedPath)
		os.Exit(1)
	}

	byAppID := make(map[uint16]*ied.ControlBlock, len(subscribed))
	var groups []net.IP
	for _, cb := range subscribed {
		byAppID[cb.AppID] = cb
		groups = append(groups, cb.MulticastIP)
	}

	conn, err := transport.NewUDPMulticast(ifName, groups, maxDatagramSize)
	if err != nil {
		log.Errorf("%v: %v", ied.ErrTransportFatal, err)
		os.Exit(1)
	}
	defer conn.Close()

	signer := session.NullSigner{}
	for {
		buf, err := conn.Recv()
		if err != nil {
			log.Warnf("recv: %v", err)
			continue
		}
		fmt.Printf(">> %d bytes received\n", len(buf))

		frame, err := session.Decode(signer, buf)
		if err != nil {
			log.Debugf("dropping datagram: %v", err)
			continue
		}
		cb, ok := byAppID[frame.AppID]
		if !ok {
			continue
		}

		switch frame.Kind {
		case session.KindGOOSE:
			msg, err := cb.DecodeGOOSE(frame.SPDUNum, frame.PDU)
			if err != nil {
				log.Debugf("%s: rejected: %v", cb.CBName, err)
				continue
			}
			fmt.Printf("Checked R-GOOSE OK\ncbName: %s\n\tallData = % X\n\tstNum = %d\tsqNum = %d\t|\tSPDU Number (from Session Header) = %d\n",
				cb.CBName, msg.AllData, msg.StNum, msg.SqNum, frame.SPDUNum)
		case session.KindSV:
			msg, err := cb.DecodeSV(frame.SPDUNum, frame.PDU)
			if err != nil {
				log.Debugf("%s: rejected: %v", cb.CBName, err)
				continue
			}
			fmt.Printf("cbName: %s\nsmpCnt: %d\nChecked R-SV OK\nsequenceofdata = %v\n",
				cb.CBName, msg.SmpCnt, msg.Samples)
		}
	}
}
