// Package rgoose implements the R-GOOSE/R-SV application profile defined by
// IEC 61850-90-5: the GOOSE/SV APDU and PDU codec, and the per-Control-Block
// session state machine that connects the encoder and decoder (SPDU number,
// stNum/sqNum or smpCnt, and the last-sent payload value).
//
// The outermost session-layer framing lives in the sibling session package;
// SED configuration loading lives in the sibling sed package. This package
// is the "hard part": C5 in the design's component table.
package rgoose

import (
	"fmt"
	"net"
	"sync"
)

// Kind distinguishes a GOOSE control block from a Sampled Values control
// block. The two share session-layer framing but diverge completely in
// PDU shape and session-state fields (§3).
type Kind uint8

const (
	KindGOOSE Kind = iota
	KindSV
)

func (k Kind) String() string {
	switch k {
	case KindGOOSE:
		return "GSE"
	case KindSV:
		return "SMV"
	default:
		return "unknown"
	}
}

// MaxUint32 is the rollover boundary for spduNum, stNum and sqNum (§3).
const MaxUint32 = ^uint32(0)

// smpCntWrap is the modulus sampled-value counters wrap at (§3, §4.5.2).
const smpCntWrap = 4000

// ControlBlock is the unit of configuration loaded from a SED file (§3) and
// the owner of the mutable per-direction SessionState (§3, §5) that the
// encoder and decoder read and update.
//
// The fields below are read-only after SED loading and may be shared by
// reference across goroutines (§5). The embedded state is guarded by a
// mutex: the base design has a single-threaded sender and a single-threaded
// receiver touching no shared state, but this implementation additionally
// lets an operator metrics scrape read SessionState concurrently with the
// tick/receive goroutines, so the lock is required here even though it has
// no analogue in the original design.
type ControlBlock struct {
	HostIED       string
	Kind          Kind
	MulticastIP   net.IP
	AppID         uint16
	VLANID        uint16
	CBName        string
	DatSetName    string
	DatSetMembers []string
	Subscribers   []string

	// GoID, if non-empty, is checked against the decoded GOOSE goID field
	// instead of CBName. Left empty, goID is checked against CBName.
	GoID string

	mu    sync.Mutex
	state SessionState
	tx    txState
}

// SessionState is one per Control Block per direction (§3). StNum, SqNum
// and LastAllData apply only to GOOSE; SmpCnt and LastSeqOfData apply only
// to SV. SPDUNum is common to both.
type SessionState struct {
	SPDUNum     uint32
	SPDUNumSeen bool

	StNum       uint32
	SqNum       uint32
	LastAllData []byte

	SmpCnt        uint16
	LastSeqOfData []byte
}

// txState tracks the GOOSE retransmission state machine (§4.5.3). SV has no
// equivalent burst behavior.
type txState int

const (
	txSteady txState = iota
	txChangeBurst
)

// State returns a copy of the Control Block's current SessionState. Safe
// for concurrent use with Encode/Decode calls; used by the metrics package
// to expose live gauges without racing the tick or receive loop.
func (cb *ControlBlock) State() SessionState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Validate checks the §3 invariants that SED loading must establish:
// CBName (and, for GSE, DatSetName) must be fully qualified, and an SV
// block must carry no DatSetName.
func (cb *ControlBlock) Validate() error {
	if cb.CBName == "" {
		return fmt.Errorf("%w: control block has empty cbName", ErrConfigFatal)
	}
	if !isQualified(cb.CBName) {
		return fmt.Errorf("%w: cbName %q is not fully qualified", ErrConfigFatal, cb.CBName)
	}
	switch cb.Kind {
	case KindGOOSE:
		if cb.DatSetName == "" {
			return fmt.Errorf("%w: GSE control block %q has no datSetName", ErrConfigFatal, cb.CBName)
		}
		if !isQualified(cb.DatSetName) {
			return fmt.Errorf("%w: datSetName %q is not fully qualified", ErrConfigFatal, cb.DatSetName)
		}
	case KindSV:
		if cb.DatSetName != "" {
			return fmt.Errorf("%w: SMV control block %q must not carry a datSetName", ErrConfigFatal, cb.CBName)
		}
	default:
		return fmt.Errorf("%w: control block %q has unknown kind", ErrConfigFatal, cb.CBName)
	}
	return nil
}

// isQualified reports whether a reference carries the "<ldInst>/<lnClass>."
// prefix §4.3 step 3 attaches during resolution.
func isQualified(ref string) bool {
	slash := -1
	for i, r := range ref {
		if r == '/' {
			slash = i
			break
		}
	}
	if slash <= 0 {
		return false
	}
	dot := -1
	for i := slash + 1; i < len(ref); i++ {
		if ref[i] == '.' {
			dot = i
			break
		}
	}
	return dot > slash+1 && dot < len(ref)-1
}

// effectiveGoID returns the value the decoded goID field must match: the
// explicitly configured GoID if present, otherwise CBName (§9).
func (cb *ControlBlock) effectiveGoID() string {
	if cb.GoID != "" {
		return cb.GoID
	}
	return cb.CBName
}

// acceptSPDUNum applies the shared §3 monotonicity rule: strictly
// increasing, with a single permitted rollover from MaxUint32 to 0. A value
// more than half the counter range ahead of prev is a step backwards across
// that rollover (e.g. MaxUint32 after 0) and is rejected as well. seen
// reports whether this Control Block has ever accepted a frame in this
// direction before — not whether prev happens to be 0, which is itself a
// valid post-rollover spduNum and must not re-open the initial-frame
// bypass. It does not mutate state; callers apply the new value only once
// the rest of the datagram has validated.
func acceptSPDUNum(prev uint32, seen bool, current uint32) error {
	isInitial := !seen
	isRollover := current == 0 && prev == MaxUint32
	if !isInitial && !isRollover && (current <= prev || current-prev > MaxUint32/2) {
		return outOfOrder("spduNum %d did not increase past previous %d", current, prev)
	}
	return nil
}
