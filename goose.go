package rgoose

import (
	"bytes"
	"time"

	"github.com/rgoose90/ied/internal/ber"
)

// GOOSE PDU tags (§4.5.1).
const (
	tagGOOSEOuter        = 0x61
	tagGOOSEOuterLenForm = 0x81
	tagGocbRef           = 0x80
	tagTimeAllowedToLive = 0x81
	tagDatSet            = 0x82
	tagGoID              = 0x83
	tagTime              = 0x84
	tagStNum             = 0x85
	tagSqNum             = 0x86
	tagTest              = 0x87
	tagConfRev           = 0x88
	tagNdsCom            = 0x89
	tagNumDatSetEntries  = 0x8A
	tagAllData           = 0xAB
)

// GooseMessage is what a successful GOOSE decode hands to the application.
type GooseMessage struct {
	StNum            uint32
	SqNum            uint32
	NumDatSetEntries int
	AllData          []byte
	Time             time.Time
}

// EncodeGOOSE advances this Control Block's GOOSE session state for one
// send cycle and returns the encoded GOOSE PDU (the bytes that follow the
// session-layer APDU Length field) along with the SPDU number the caller
// must frame it with. now is used for both the "t" field and, unused here,
// future time-based scheduling hooks.
func (cb *ControlBlock) EncodeGOOSE(allData []byte, now time.Time) (spduNum uint32, pdu []byte, err error) {
	if cb.Kind != KindGOOSE {
		return 0, nil, malformed("EncodeGOOSE called on non-GSE control block %q", cb.CBName)
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	changed := !bytes.Equal(cb.state.LastAllData, allData)
	prevSqNum := cb.state.SqNum
	stNum, sqNum := nextStNumSqNum(cb.state.StNum, cb.state.SqNum, changed)
	cb.tx = nextTxState(cb.tx, changed, sqNum)

	// timeAllowedToLive is keyed on the retransmission count going into
	// this send (the sqNum already elapsed in the current burst), not the
	// sqNum this frame itself carries.
	ttlIndex := prevSqNum
	if changed {
		ttlIndex = 0
	}
	pdu = encodeGoosePDU(cb, stNum, sqNum, ttlIndex, allData, now)

	cb.state.StNum = stNum
	cb.state.SqNum = sqNum
	cb.state.LastAllData = append([]byte(nil), allData...)
	cb.state.SPDUNum++
	return cb.state.SPDUNum, pdu, nil
}

func encodeGoosePDU(cb *ControlBlock, stNum, sqNum, ttlIndex uint32, allData []byte, now time.Time) []byte {
	ttl := ber.WriteUintMinLen(uint32(timeAllowedToLive(ttlIndex).Milliseconds()))
	stNumBytes := ber.WriteUintMinLen(stNum)
	sqNumBytes := ber.WriteUintMinLen(sqNum)
	ts := encodeUtcTime(now)

	var body bytes.Buffer
	writeTLV(&body, tagGocbRef, []byte(cb.CBName))
	writeTLV(&body, tagTimeAllowedToLive, ttl)
	writeTLV(&body, tagDatSet, []byte(cb.DatSetName))
	writeTLV(&body, tagGoID, []byte(cb.effectiveGoID()))
	writeTLV(&body, tagTime, ts[:])
	writeTLV(&body, tagStNum, stNumBytes)
	writeTLV(&body, tagSqNum, sqNumBytes)
	writeTLV(&body, tagTest, []byte{0x00})
	writeTLV(&body, tagConfRev, []byte{0x01})
	writeTLV(&body, tagNdsCom, []byte{0x00})
	writeTLV(&body, tagNumDatSetEntries, []byte{0x01})
	writeTLV(&body, tagAllData, allData)

	var out bytes.Buffer
	out.WriteByte(tagGOOSEOuter)
	out.WriteByte(tagGOOSEOuterLenForm)
	out.WriteByte(byte(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

// DecodeGOOSE validates pdu against this Control Block's configuration and
// session state and, on success, atomically updates that state. spduNum is
// the SPDU number the session-layer framer already extracted; it is
// validated here because its monotonicity rule is shared with SV and this
// package owns all session-state mutation. On any error the Control
// Block's state is left completely unchanged.
func (cb *ControlBlock) DecodeGOOSE(spduNum uint32, pdu []byte) (*GooseMessage, error) {
	if cb.Kind != KindGOOSE {
		return nil, malformed("DecodeGOOSE called on non-GSE control block %q", cb.CBName)
	}
	if len(pdu) < 3 || pdu[0] != tagGOOSEOuter || pdu[1] != tagGOOSEOuterLenForm {
		return nil, malformed("bad GOOSE outer tag for %q", cb.CBName)
	}
	declaredLen := int(pdu[2])
	if 3+declaredLen != len(pdu) {
		return nil, malformed("GOOSE outer length %d does not match PDU size %d", declaredLen, len(pdu))
	}

	start, end := 3, len(pdu)

	elem, pos, err := ber.WalkOne(pdu, start, end)
	if err != nil {
		return nil, malformed("gocbRef: %v", err)
	}
	if elem.Tag != tagGocbRef {
		return nil, malformed("expected gocbRef tag 0x%02X, got 0x%02X", tagGocbRef, elem.Tag)
	}
	gocbRef := string(pdu[elem.ValueOffset:elem.End()])
	if gocbRef != cb.CBName {
		return nil, mismatch("gocbRef %q does not match control block %q", gocbRef, cb.CBName)
	}

	elem, pos, err = ber.WalkOne(pdu, pos, end)
	if err != nil {
		return nil, malformed("timeAllowedToLive: %v", err)
	}
	if elem.Tag != tagTimeAllowedToLive {
		return nil, malformed("expected timeAllowedToLive tag 0x%02X, got 0x%02X", tagTimeAllowedToLive, elem.Tag)
	}

	elem, pos, err = ber.WalkOne(pdu, pos, end)
	if err != nil {
		return nil, malformed("datSet: %v", err)
	}
	if elem.Tag != tagDatSet {
		return nil, malformed("expected datSet tag 0x%02X, got 0x%02X", tagDatSet, elem.Tag)
	}
	datSet := string(pdu[elem.ValueOffset:elem.End()])
	if datSet != cb.DatSetName {
		return nil, mismatch("datSet %q does not match control block %q", datSet, cb.DatSetName)
	}

	elem, pos, err = ber.WalkOne(pdu, pos, end)
	if err != nil {
		return nil, malformed("goID: %v", err)
	}
	if elem.Tag != tagGoID {
		return nil, malformed("expected goID tag 0x%02X, got 0x%02X", tagGoID, elem.Tag)
	}
	goID := string(pdu[elem.ValueOffset:elem.End()])
	if goID != cb.effectiveGoID() {
		return nil, mismatch("goID %q does not match expected %q", goID, cb.effectiveGoID())
	}

	elem, pos, err = ber.WalkOne(pdu, pos, end)
	if err != nil {
		return nil, malformed("t: %v", err)
	}
	if elem.Tag != tagTime || elem.Length != 8 {
		return nil, malformed("expected 8-byte t tag 0x%02X, got tag 0x%02X length %d", tagTime, elem.Tag, elem.Length)
	}
	decodedTime := decodeUtcTime(pdu[elem.ValueOffset:elem.End()])

	elem, pos, err = ber.WalkOne(pdu, pos, end)
	if err != nil {
		return nil, malformed("stNum: %v", err)
	}
	if elem.Tag != tagStNum {
		return nil, malformed("expected stNum tag 0x%02X, got 0x%02X", tagStNum, elem.Tag)
	}
	currentStNum, err := ber.ReadUintBE(pdu, elem.ValueOffset, int(elem.Length))
	if err != nil {
		return nil, malformed("stNum value: %v", err)
	}

	elem, pos, err = ber.WalkOne(pdu, pos, end)
	if err != nil {
		return nil, malformed("sqNum: %v", err)
	}
	if elem.Tag != tagSqNum {
		return nil, malformed("expected sqNum tag 0x%02X, got 0x%02X", tagSqNum, elem.Tag)
	}
	currentSqNum, err := ber.ReadUintBE(pdu, elem.ValueOffset, int(elem.Length))
	if err != nil {
		return nil, malformed("sqNum value: %v", err)
	}

	elem, pos, err = ber.WalkOne(pdu, pos, end)
	if err != nil {
		return nil, malformed("test: %v", err)
	}
	if elem.Tag != tagTest || elem.Length != 1 || pdu[elem.ValueOffset] != 0x00 {
		return nil, malformed("test field must be a single false byte")
	}

	elem, pos, err = ber.WalkOne(pdu, pos, end)
	if err != nil {
		return nil, malformed("confRev: %v", err)
	}
	if elem.Tag != tagConfRev || elem.Length != 1 || pdu[elem.ValueOffset] != 0x01 {
		return nil, malformed("confRev field must be a single byte equal to 1")
	}

	elem, pos, err = ber.WalkOne(pdu, pos, end)
	if err != nil {
		return nil, malformed("ndsCom: %v", err)
	}
	if elem.Tag != tagNdsCom || elem.Length != 1 || pdu[elem.ValueOffset] != 0x00 {
		return nil, malformed("ndsCom field must be a single false byte")
	}

	elem, pos, err = ber.WalkOne(pdu, pos, end)
	if err != nil {
		return nil, malformed("numDatSetEntries: %v", err)
	}
	if elem.Tag != tagNumDatSetEntries || elem.Length != 1 {
		return nil, malformed("numDatSetEntries must be a single byte")
	}
	numDatSetEntries := int(pdu[elem.ValueOffset])

	elem, pos, err = ber.WalkOne(pdu, pos, end)
	if err != nil {
		return nil, malformed("allData: %v", err)
	}
	if elem.Tag != tagAllData {
		return nil, malformed("expected allData tag 0x%02X, got 0x%02X", tagAllData, elem.Tag)
	}
	allDataStart, allDataEnd := elem.ValueOffset, elem.End()
	allData := pdu[allDataStart:allDataEnd]

	innerElems, err := ber.Walk(pdu, allDataStart, allDataEnd)
	if err != nil {
		return nil, malformed("allData entries: %v", err)
	}
	if len(innerElems) != numDatSetEntries {
		return nil, malformed("numDatSetEntries declared %d but allData carries %d entries", numDatSetEntries, len(innerElems))
	}
	if pos != end {
		return nil, malformed("trailing bytes after allData, PDU did not land on signature block")
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err := acceptSPDUNum(cb.state.SPDUNum, cb.state.SPDUNumSeen, spduNum); err != nil {
		return nil, err
	}

	if currentStNum < cb.state.StNum {
		return nil, outOfOrder("stNum %d regressed past previous %d", currentStNum, cb.state.StNum)
	}
	allDataUnchanged := bytes.Equal(cb.state.LastAllData, allData)
	if currentStNum != cb.state.StNum {
		// A jump to a new stNum must be accompanied by a changed payload;
		// bumping state with no change is malformed (§4.5.1 decode
		// validation). This is a comparison, never an assignment — the
		// source this profile is ported from conflates the two at this
		// exact spot; that is a bug, not the intended semantics (see the
		// first open question in §9).
		if currentStNum == cb.state.StNum+1 && allDataUnchanged {
			return nil, malformed("stNum advanced to %d with unchanged allData", currentStNum)
		}
		if currentSqNum != 0 {
			return nil, malformed("stNum changed to %d but sqNum is %d, not 0", currentStNum, currentSqNum)
		}
	} else {
		if currentSqNum <= cb.state.SqNum && cb.state.SqNum != MaxUint32 {
			return nil, duplicate("sqNum %d did not advance past previous %d for stNum %d", currentSqNum, cb.state.SqNum, currentStNum)
		}
	}

	cb.state.SPDUNum = spduNum
	cb.state.SPDUNumSeen = true
	cb.state.StNum = currentStNum
	cb.state.SqNum = currentSqNum
	cb.state.LastAllData = append([]byte(nil), allData...)

	return &GooseMessage{
		StNum:            currentStNum,
		SqNum:            currentSqNum,
		NumDatSetEntries: numDatSetEntries,
		AllData:          append([]byte(nil), allData...),
		Time:             decodedTime,
	}, nil
}

func writeTLV(buf *bytes.Buffer, tag byte, value []byte) {
	buf.WriteByte(tag)
	buf.WriteByte(byte(len(value)))
	buf.Write(value)
}
