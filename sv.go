package rgoose

import (
	"bytes"
	"time"

	"github.com/rgoose90/ied/internal/ber"
)

// SV PDU tags (§4.5.2).
const (
	tagSVOuter      = 0x60
	tagSVOuterLen   = 0x80
	tagNoASDU       = 0x80
	tagSeqOfASDU    = 0xA2
	tagASDU         = 0x30
	tagSvID         = 0x80
	tagSmpCnt       = 0x82
	tagSVConfRev    = 0x83
	tagSmpSynch     = 0x85
	tagSampleData   = 0x87
	tagSVTimestamp  = 0x89
	samplesPerASDU  = 16
	sampleDataBytes = samplesPerASDU * 4
)

// SVMessage is what a successful SV decode hands to the application.
type SVMessage struct {
	SmpCnt  uint16
	Samples [samplesPerASDU]float32
	Time    time.Time
}

// EncodeSV advances this Control Block's SV session state for one send
// cycle and returns the encoded SV PDU and the SPDU number the caller must
// frame it with.
func (cb *ControlBlock) EncodeSV(samples [samplesPerASDU]float32, now time.Time) (spduNum uint32, pdu []byte, err error) {
	if cb.Kind != KindSV {
		return 0, nil, malformed("EncodeSV called on non-SMV control block %q", cb.CBName)
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	smpCnt := nextSmpCnt(cb.state.SmpCnt)
	pdu, seqOfData := encodeSVPDU(cb, smpCnt, samples, now)

	cb.state.SmpCnt = smpCnt
	cb.state.LastSeqOfData = seqOfData
	cb.state.SPDUNum++
	return cb.state.SPDUNum, pdu, nil
}

func encodeSVPDU(cb *ControlBlock, smpCnt uint16, samples [samplesPerASDU]float32, now time.Time) (pdu []byte, seqOfData []byte) {
	var seq bytes.Buffer
	for _, s := range samples {
		b := ber.EncodeFloat32BE(s)
		seq.Write(b[:])
	}
	seqOfData = seq.Bytes()
	ts := encodeUtcTime(now)

	var asdu bytes.Buffer
	asdu.WriteByte(tagASDU)
	asdu.WriteByte(0) // patched below

	var body bytes.Buffer
	writeTLV(&body, tagSvID, []byte(cb.CBName))
	body.WriteByte(tagSmpCnt)
	body.WriteByte(2)
	body.WriteByte(byte(smpCnt >> 8))
	body.WriteByte(byte(smpCnt))
	body.WriteByte(tagSVConfRev)
	body.WriteByte(4)
	body.Write([]byte{0x00, 0x00, 0x00, 0x01})
	writeTLV(&body, tagSmpSynch, []byte{0x02})
	writeTLV(&body, tagSampleData, seqOfData)
	writeTLV(&body, tagSVTimestamp, ts[:])

	asduBytes := asdu.Bytes()
	asduBytes[1] = byte(body.Len())
	asdu.Reset()
	asdu.Write(asduBytes)
	asdu.Write(body.Bytes())

	var out bytes.Buffer
	out.WriteByte(tagSVOuter)
	out.WriteByte(tagSVOuterLen)
	out.WriteByte(0) // patched below
	out.WriteByte(tagNoASDU)
	out.WriteByte(1)
	out.WriteByte(1)
	out.WriteByte(tagSeqOfASDU)
	out.WriteByte(byte(asdu.Len()))
	out.Write(asdu.Bytes())

	outBytes := out.Bytes()
	outBytes[2] = byte(len(outBytes) - 3)
	return outBytes, seqOfData
}

// DecodeSV validates pdu against this Control Block's configuration and
// session state and, on success, atomically updates that state. spduNum is
// validated here for the same reason as in DecodeGOOSE: the monotonicity
// rule is shared and this package owns all session-state mutation.
func (cb *ControlBlock) DecodeSV(spduNum uint32, pdu []byte) (*SVMessage, error) {
	if cb.Kind != KindSV {
		return nil, malformed("DecodeSV called on non-SMV control block %q", cb.CBName)
	}
	if len(pdu) < 3 || pdu[0] != tagSVOuter || pdu[1] != tagSVOuterLen {
		return nil, malformed("bad SV outer tag for %q", cb.CBName)
	}
	declaredLen := int(pdu[2])
	if 3+declaredLen != len(pdu) {
		return nil, malformed("SV outer length %d does not match PDU size %d", declaredLen, len(pdu))
	}

	start, end := 3, len(pdu)

	elem, pos, err := ber.WalkOne(pdu, start, end)
	if err != nil {
		return nil, malformed("noASDU: %v", err)
	}
	if elem.Tag != tagNoASDU || elem.Length != 1 || pdu[elem.ValueOffset] != 0x01 {
		return nil, malformed("noASDU must be a single byte equal to 1")
	}

	elem, pos, err = ber.WalkOne(pdu, pos, end)
	if err != nil {
		return nil, malformed("sequence-of-ASDU: %v", err)
	}
	if elem.Tag != tagSeqOfASDU {
		return nil, malformed("expected sequence-of-ASDU tag 0x%02X, got 0x%02X", tagSeqOfASDU, elem.Tag)
	}
	if pos != end {
		return nil, malformed("trailing bytes after sequence-of-ASDU")
	}
	asduStart, asduEnd := elem.ValueOffset, elem.End()

	asduElem, asduPos, err := ber.WalkOne(pdu, asduStart, asduEnd)
	if err != nil {
		return nil, malformed("ASDU container: %v", err)
	}
	if asduElem.Tag != tagASDU {
		return nil, malformed("expected ASDU container tag 0x%02X, got 0x%02X", tagASDU, asduElem.Tag)
	}
	if asduPos != asduEnd {
		return nil, malformed("trailing bytes after ASDU container")
	}
	fStart, fEnd := asduElem.ValueOffset, asduElem.End()

	elem, fPos, err := ber.WalkOne(pdu, fStart, fEnd)
	if err != nil {
		return nil, malformed("svID: %v", err)
	}
	if elem.Tag != tagSvID {
		return nil, malformed("expected svID tag 0x%02X, got 0x%02X", tagSvID, elem.Tag)
	}
	svID := string(pdu[elem.ValueOffset:elem.End()])
	if svID != cb.CBName {
		return nil, mismatch("svID %q does not match control block %q", svID, cb.CBName)
	}

	elem, fPos, err = ber.WalkOne(pdu, fPos, fEnd)
	if err != nil {
		return nil, malformed("smpCnt: %v", err)
	}
	if elem.Tag != tagSmpCnt || elem.Length != 2 {
		return nil, malformed("smpCnt must be a 2-byte field")
	}
	smpCntValue, _ := ber.ReadUintBE(pdu, elem.ValueOffset, 2)
	currentSmpCnt := uint16(smpCntValue)

	elem, fPos, err = ber.WalkOne(pdu, fPos, fEnd)
	if err != nil {
		return nil, malformed("confRev: %v", err)
	}
	if elem.Tag != tagSVConfRev || elem.Length != 4 {
		return nil, malformed("confRev must be a 4-byte field")
	}
	confRev, _ := ber.ReadUintBE(pdu, elem.ValueOffset, 4)
	if confRev != 1 {
		return nil, malformed("confRev must equal 1, got %d", confRev)
	}

	elem, fPos, err = ber.WalkOne(pdu, fPos, fEnd)
	if err != nil {
		return nil, malformed("smpSynch: %v", err)
	}
	if elem.Tag != tagSmpSynch || elem.Length != 1 || pdu[elem.ValueOffset] != 0x02 {
		return nil, malformed("smpSynch must be a single byte equal to 2")
	}

	elem, fPos, err = ber.WalkOne(pdu, fPos, fEnd)
	if err != nil {
		return nil, malformed("sample data: %v", err)
	}
	if elem.Tag != tagSampleData || int(elem.Length) != sampleDataBytes {
		return nil, malformed("sample data must be a %d-byte field", sampleDataBytes)
	}
	seqOfData := pdu[elem.ValueOffset:elem.End()]
	var samples [samplesPerASDU]float32
	for i := 0; i < samplesPerASDU; i++ {
		samples[i] = ber.DecodeFloat32BE(seqOfData[i*4 : i*4+4])
	}

	elem, fPos, err = ber.WalkOne(pdu, fPos, fEnd)
	if err != nil {
		return nil, malformed("timestamp: %v", err)
	}
	if elem.Tag != tagSVTimestamp || elem.Length != 8 {
		return nil, malformed("timestamp must be an 8-byte field")
	}
	decodedTime := decodeUtcTime(pdu[elem.ValueOffset:elem.End()])

	if fPos != fEnd {
		// Optional ASDU fields (datSet, refrTm, smpRate, smpMod) are not
		// present in this profile; any trailing bytes mean one of them
		// (or something else) showed up, which is malformed here.
		return nil, malformed("unexpected trailing ASDU fields")
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err := acceptSPDUNum(cb.state.SPDUNum, cb.state.SPDUNumSeen, spduNum); err != nil {
		return nil, err
	}
	if err := acceptSmpCnt(cb.state.SmpCnt, currentSmpCnt); err != nil {
		return nil, err
	}

	cb.state.SPDUNum = spduNum
	cb.state.SPDUNumSeen = true
	cb.state.SmpCnt = currentSmpCnt
	cb.state.LastSeqOfData = append([]byte(nil), seqOfData...)

	return &SVMessage{
		SmpCnt:  currentSmpCnt,
		Samples: samples,
		Time:    decodedTime,
	}, nil
}
