// Package metrics exposes live per-Control-Block session state and decode
// error counts as Prometheus metrics. It is a pull-model collector in the
// style of runZeroInc-sockstats' TCPInfoCollector: a registry of tracked
// objects plus a Collect method that reads their current state on every
// scrape, rather than a push-model of pre-aggregated counters.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	ied "github.com/rgoose90/ied"
)

var (
	spduNumDesc = prometheus.NewDesc(
		"rgoose_spdu_number", "Last SPDU number sent or accepted for this control block.",
		[]string{"cb_name", "kind"}, nil,
	)
	stNumDesc = prometheus.NewDesc(
		"rgoose_st_num", "Current GOOSE stNum for this control block.",
		[]string{"cb_name", "kind"}, nil,
	)
	sqNumDesc = prometheus.NewDesc(
		"rgoose_sq_num", "Current GOOSE sqNum for this control block.",
		[]string{"cb_name", "kind"}, nil,
	)
	smpCntDesc = prometheus.NewDesc(
		"rgoose_smp_cnt", "Current SV smpCnt for this control block.",
		[]string{"cb_name", "kind"}, nil,
	)
	decodeErrorsDesc = prometheus.NewDesc(
		"rgoose_decode_errors_total", "Datagrams rejected at decode, by rejection kind.",
		[]string{"cb_name", "kind", "reason"}, nil,
	)
)

// Collector tracks a set of live Control Blocks and reports their session
// state on every scrape.
type Collector struct {
	mu          sync.Mutex
	blocks      map[*ied.ControlBlock]struct{}
	errorCounts map[ied.DecodeKind]map[*ied.ControlBlock]uint64
}

// NewCollector returns an empty Collector; Control Blocks are added with
// Track as they're loaded from SED.
func NewCollector() *Collector {
	return &Collector{
		blocks:      make(map[*ied.ControlBlock]struct{}),
		errorCounts: make(map[ied.DecodeKind]map[*ied.ControlBlock]uint64),
	}
}

// Track registers cb so its session state is reported on every scrape.
func (c *Collector) Track(cb *ied.ControlBlock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks[cb] = struct{}{}
}

// RecordDecodeError increments the rejection counter for cb/kind. Call this
// from the receive loop whenever DecodeGOOSE/DecodeSV returns an error.
func (c *Collector) RecordDecodeError(cb *ied.ControlBlock, kind ied.DecodeKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	perCB, ok := c.errorCounts[kind]
	if !ok {
		perCB = make(map[*ied.ControlBlock]uint64)
		c.errorCounts[kind] = perCB
	}
	perCB[cb]++
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- spduNumDesc
	descs <- stNumDesc
	descs <- sqNumDesc
	descs <- smpCntDesc
	descs <- decodeErrorsDesc
}

func (c *Collector) Collect(out chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for cb := range c.blocks {
		kind := cb.Kind.String()
		state := cb.State()

		out <- prometheus.MustNewConstMetric(spduNumDesc, prometheus.GaugeValue, float64(state.SPDUNum), cb.CBName, kind)
		switch cb.Kind {
		case ied.KindGOOSE:
			out <- prometheus.MustNewConstMetric(stNumDesc, prometheus.GaugeValue, float64(state.StNum), cb.CBName, kind)
			out <- prometheus.MustNewConstMetric(sqNumDesc, prometheus.GaugeValue, float64(state.SqNum), cb.CBName, kind)
		case ied.KindSV:
			out <- prometheus.MustNewConstMetric(smpCntDesc, prometheus.GaugeValue, float64(state.SmpCnt), cb.CBName, kind)
		}

		for errKind, perCB := range c.errorCounts {
			count, ok := perCB[cb]
			if !ok {
				continue
			}
			out <- prometheus.MustNewConstMetric(decodeErrorsDesc, prometheus.CounterValue, float64(count), cb.CBName, kind, errKind.String())
		}
	}
}
