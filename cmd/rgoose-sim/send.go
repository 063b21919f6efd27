package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	ied "github.com/rgoose90/ied"
	"github.com/rgoose90/ied/sed"
	"github.com/rgoose90/ied/session"
	"github.com/rgoose90/ied/transport"
)

const maxDatagramSize = 1500

// runSend mirrors original_source's ied_send.cpp: publish every GSE/SMV
// control block hosted by the named IED, one cycle per tick, sourcing
// payload values from GOOSEdata.txt/SVdata.txt in data-dir.
func runSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	dataDir := fs.String("data-dir", ".", "directory containing GOOSEdata.txt/SVdata.txt")
	interval := fs.Duration("interval", time.Second, "send cycle interval")
	verbose := fs.Bool("v", false, "enable debug logging")
	fs.Parse(args)

	log.SetLevel(log.InfoLevel)
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if fs.NArg() != 3 {
		fmt.Fprintf(os.Stderr, "usage: %s send <SED file> <interface name> <IED name>\n", os.Args[0])
		os.Exit(1)
	}
	sedPath, ifName, iedName := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	blocks, err := sed.Load(sedPath)
	if err != nil {
		log.Errorf("loading SED file %q: %v", sedPath, err)
		os.Exit(1)
	}

	var gooseCBs, svCBs []*ied.ControlBlock
	for _, cb := range blocks {
		if cb.HostIED != iedName {
			continue
		}
		switch cb.Kind {
		case ied.KindGOOSE:
			gooseCBs = append(gooseCBs, cb)
		case ied.KindSV:
			svCBs = append(svCBs, cb)
		}
	}
	if len(gooseCBs)+len(svCBs) == 0 {
		log.Errorf("IED %q owns no control blocks in %q", iedName, sedPath)
		os.Exit(1)
	}
	log.Infof("IED %q publishes %d GOOSE and %d SV control block(s)", iedName, len(gooseCBs), len(svCBs))

	var groups []net.IP
	for _, cb := range gooseCBs {
		groups = append(groups, cb.MulticastIP)
	}
	for _, cb := range svCBs {
		groups = append(groups, cb.MulticastIP)
	}
	conn, err := transport.NewUDPMulticast(ifName, groups, maxDatagramSize)
	if err != nil {
		log.Errorf("%v: %v", ied.ErrTransportFatal, err)
		os.Exit(1)
	}
	defer conn.Close()

	var goSrc *GOOSESource
	if len(gooseCBs) > 0 {
		goSrc, err = LoadGOOSESource(filepath.Join(*dataDir, "GOOSEdata.txt"))
		if err != nil {
			log.Errorf("%v: %v", ied.ErrConfigFatal, err)
			os.Exit(1)
		}
	}
	var svSrc *SVSource
	if len(svCBs) > 0 {
		svSrc, err = LoadSVSource(filepath.Join(*dataDir, "SVdata.txt"))
		if err != nil {
			log.Errorf("%v: %v", ied.ErrConfigFatal, err)
			os.Exit(1)
		}
	}

	signer := session.NullSigner{}
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	sValue := 0
	for range ticker.C {
		now := time.Now()

		for i, cb := range gooseCBs {
			bit, err := goSrc.Bit(i, sValue)
			if err != nil {
				log.Warnf("%s: %v", cb.CBName, err)
				continue
			}
			allData := []byte{0x83, 0x01, bit}
			spduNum, pdu, err := cb.EncodeGOOSE(allData, now)
			if err != nil {
				log.Warnf("%s: %v", cb.CBName, err)
				continue
			}
			frame := session.Encode(signer, session.KindGOOSE, cb.AppID, spduNum, pdu)
			if err := conn.Send(cb.MulticastIP, transport.Port, frame); err != nil {
				log.Warnf("%s: %v", cb.CBName, err)
				continue
			}
			log.Debugf("%s: sent spduNum=%d allData=%#v", cb.CBName, spduNum, allData)
		}

		for i, cb := range svCBs {
			samples, err := svSrc.Samples(i, sValue)
			if err != nil {
				log.Warnf("%s: %v", cb.CBName, err)
				continue
			}
			spduNum, pdu, err := cb.EncodeSV(samples, now)
			if err != nil {
				log.Warnf("%s: %v", cb.CBName, err)
				continue
			}
			frame := session.Encode(signer, session.KindSV, cb.AppID, spduNum, pdu)
			if err := conn.Send(cb.MulticastIP, transport.Port, frame); err != nil {
				log.Warnf("%s: %v", cb.CBName, err)
				continue
			}
			log.Debugf("%s: sent spduNum=%d samples=%v", cb.CBName, spduNum, samples)
		}

		sValue++
	}
}
