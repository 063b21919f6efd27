// Command rgoose-ied is the R-GOOSE/R-SV receive endpoint for one IED: it
// loads a SED file, joins the multicast groups carrying the control blocks
// that IED subscribes to, and decodes incoming datagrams until signalled.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	ied "github.com/rgoose90/ied"
	"github.com/rgoose90/ied/metrics"
	"github.com/rgoose90/ied/sed"
	"github.com/rgoose90/ied/session"
	"github.com/rgoose90/ied/transport"
)

const maxDatagramSize = 1500

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9100 (disabled if empty)")
	livenessTimeout := flag.Duration("liveness-timeout", 10*time.Second, "how long a subscribed control block may stay silent before it's logged as timed out")
	flag.Parse()

	log.SetLevel(log.InfoLevel)
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if flag.NArg() != 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <SED file> <interface name> <IED name>\n", os.Args[0])
		os.Exit(1)
	}
	sedPath, ifName, iedName := flag.Arg(0), flag.Arg(1), flag.Arg(2)

	blocks, err := sed.Load(sedPath)
	if err != nil {
		log.Errorf("loading SED file %q: %v", sedPath, err)
		os.Exit(1)
	}

	subscribed := subscriptionsFor(blocks, iedName)
	if len(subscribed) == 0 {
		log.Errorf("IED %q has no resolved subscriptions in %q", iedName, sedPath)
		os.Exit(1)
	}
	log.Infof("IED %q subscribes to %d control block(s)", iedName, len(subscribed))

	byAppID := make(map[uint16]*ied.ControlBlock, len(subscribed))
	var groups []net.IP
	for _, cb := range subscribed {
		byAppID[cb.AppID] = cb
		groups = append(groups, cb.MulticastIP)
		log.Debugf("subscribed: %s appID=0x%04X group=%s", cb.CBName, cb.AppID, cb.MulticastIP)
	}

	conn, err := transport.NewUDPMulticast(ifName, groups, maxDatagramSize)
	if err != nil {
		log.Errorf("%v: %v", ied.ErrTransportFatal, err)
		os.Exit(1)
	}
	defer conn.Close()

	collector := metrics.NewCollector()
	for _, cb := range subscribed {
		collector.Track(cb)
	}
	if *metricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collector)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Errorf("metrics server stopped: %v", err)
			}
		}()
		log.Infof("serving metrics on %s/metrics", *metricsAddr)
	}

	liveness := ied.NewLivenessMonitor()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go receiveLoop(conn, byAppID, collector, liveness, done)
	go livenessLoop(subscribed, liveness, *livenessTimeout, done)

	<-stop
	log.Info("shutting down")
	close(done)
}

// livenessLoop periodically logs any subscribed control block that has
// gone silent past livenessTimeout.
func livenessLoop(subscribed []*ied.ControlBlock, liveness *ied.LivenessMonitor, livenessTimeout time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(livenessTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			for _, cb := range subscribed {
				if liveness.State(cb, livenessTimeout, now) == ied.LivenessTimeout {
					log.Warnf("%s: no frame received within %s", cb.CBName, livenessTimeout)
				}
			}
		}
	}
}

func subscriptionsFor(blocks []*ied.ControlBlock, iedName string) []*ied.ControlBlock {
	var out []*ied.ControlBlock
	for _, cb := range blocks {
		for _, sub := range cb.Subscribers {
			if sub == iedName {
				out = append(out, cb)
				break
			}
		}
	}
	return out
}

func receiveLoop(conn *transport.UDPMulticast, byAppID map[uint16]*ied.ControlBlock, collector *metrics.Collector, liveness *ied.LivenessMonitor, done <-chan struct{}) {
	signer := session.NullSigner{}
	for {
		select {
		case <-done:
			return
		default:
		}

		buf, err := conn.Recv()
		if err != nil {
			log.Warnf("recv: %v", err)
			continue
		}

		frame, err := session.Decode(signer, buf)
		if err != nil {
			log.Debugf("dropping datagram: %v", err)
			continue
		}

		cb, ok := byAppID[frame.AppID]
		if !ok {
			continue
		}

		if err := decodeInto(cb, frame); err != nil {
			var decErr *ied.DecodeError
			if errors.As(err, &decErr) {
				collector.RecordDecodeError(cb, decErr.Kind)
			}
			log.Debugf("%s: rejected: %v", cb.CBName, err)
			continue
		}
		liveness.Touch(cb, time.Now())
		log.Debugf("%s: accepted spduNum=%d", cb.CBName, frame.SPDUNum)
	}
}

func decodeInto(cb *ied.ControlBlock, frame *session.Frame) error {
	switch frame.Kind {
	case session.KindGOOSE:
		_, err := cb.DecodeGOOSE(frame.SPDUNum, frame.PDU)
		return err
	case session.KindSV:
		_, err := cb.DecodeSV(frame.SPDUNum, frame.PDU)
		return err
	default:
		return fmt.Errorf("rgoose-ied: unknown frame kind %v", frame.Kind)
	}
}

