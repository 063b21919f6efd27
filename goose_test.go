package rgoose

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rgoose90/ied/internal/ber"
)

func scenarioACB() *ControlBlock {
	return &ControlBlock{
		HostIED:     "IED1",
		Kind:        KindGOOSE,
		MulticastIP: net.ParseIP("239.192.0.1"),
		AppID:       0x1001,
		CBName:      "LD0/LLN0.gcb01",
		DatSetName:  "LD0/LLN0.ds01",
	}
}

func TestScenarioAFreshGSEChange(t *testing.T) {
	cb := scenarioACB()
	now := time.Unix(1_700_000_000, 0)

	spdu1, pdu1, err := cb.EncodeGOOSE([]byte{0x83, 0x01, 0x01}, now)
	require.NoError(t, err)

	spdu2, pdu2, err := cb.EncodeGOOSE([]byte{0x83, 0x01, 0x00}, now)
	require.NoError(t, err)
	// Each call changes allData relative to the previous send, so stNum
	// advances on both: 0->1 on the first call, 1->2 on the second.
	assert.EqualValues(t, 2, cb.state.StNum)
	assert.EqualValues(t, 0, cb.state.SqNum)

	rxCB := scenarioACB()
	msg1, err := rxCB.DecodeGOOSE(spdu1, pdu1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, msg1.StNum)
	assert.EqualValues(t, 0, msg1.SqNum)

	msg2, err := rxCB.DecodeGOOSE(spdu2, pdu2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, msg2.StNum)
	assert.EqualValues(t, 0, msg2.SqNum)
}

// TestScenarioBRetransmissionBackoff sends 14 consecutive unchanged
// payloads from a CB already at stNum=5, sqNum=0 and checks the
// timeAllowedToLive values against the fixed §4.5.1 schedule: ttl is keyed
// on the retransmission count already elapsed going into each send (0..13),
// not the sqNum the outgoing frame itself carries.
func TestScenarioBRetransmissionBackoff(t *testing.T) {
	cb := scenarioACB()
	cb.state.StNum = 5
	cb.state.SqNum = 0
	cb.state.LastAllData = []byte{0xAA}
	now := time.Unix(1_700_000_000, 0)

	want := []int64{20, 20, 20, 20, 20, 20, 32, 64, 128, 256, 512, 1024, 2048, 4000}
	var got []int64
	for i := 0; i < 14; i++ {
		_, pdu, err := cb.EncodeGOOSE([]byte{0xAA}, now)
		require.NoError(t, err)
		got = append(got, ttlFromPDU(t, pdu))
	}
	assert.Equal(t, want, got)
}

func ttlFromPDU(t *testing.T, pdu []byte) int64 {
	t.Helper()
	// Fixed layout: outer tag/len (3 bytes), gocbRef TLV, then
	// timeAllowedToLive TLV.
	pos := 3
	gocbRefLen := int(pdu[pos+1])
	pos += 2 + gocbRefLen
	require.Equal(t, byte(tagTimeAllowedToLive), pdu[pos])
	ttlLen := int(pdu[pos+1])
	v, err := ber.ReadUintBE(pdu, pos+2, ttlLen)
	require.NoError(t, err)
	return int64(v)
}

func TestScenarioCSPDURollover(t *testing.T) {
	cb := scenarioACB()
	cb.state.SPDUNum = MaxUint32
	now := time.Unix(1_700_000_000, 0)

	pdu := encodeGoosePDU(cb, 1, 0, 0, []byte{0x83, 0x01, 0x01}, now)
	msg, err := cb.DecodeGOOSE(0, pdu)
	require.NoError(t, err)
	assert.NotNil(t, msg)
	assert.EqualValues(t, 0, cb.state.SPDUNum)

	pdu2 := encodeGoosePDU(cb, 1, 0, 0, []byte{0x83, 0x01, 0x01}, now)
	_, err = cb.DecodeGOOSE(MaxUint32, pdu2)
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, KindOutOfOrder, decErr.Kind)
}

func TestScenarioDStNumBumpedWithoutChange(t *testing.T) {
	cb := scenarioACB()
	now := time.Unix(1_700_000_000, 0)
	allData := []byte{0x83, 0x01, 0x01}

	pdu1 := encodeGoosePDU(cb, 1, 0, 0, allData, now)
	_, err := cb.DecodeGOOSE(1, pdu1)
	require.NoError(t, err)

	pdu2 := encodeGoosePDU(cb, 2, 0, 0, allData, now)
	_, err = cb.DecodeGOOSE(2, pdu2)
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, KindMalformed, decErr.Kind)
}

func TestDecodeGOOSERejectsGocbRefMismatch(t *testing.T) {
	cb := scenarioACB()
	now := time.Unix(1_700_000_000, 0)
	pdu := encodeGoosePDU(cb, 1, 0, 0, []byte{0x01}, now)

	other := scenarioACB()
	other.CBName = "LD0/LLN0.other"
	_, err := other.DecodeGOOSE(1, pdu)
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, KindMismatch, decErr.Kind)
}

func TestDecodeGOOSERejectsTruncatedAllData(t *testing.T) {
	cb := scenarioACB()
	now := time.Unix(1_700_000_000, 0)
	pdu := encodeGoosePDU(cb, 1, 0, 0, []byte{0x01}, now)
	_, err := cb.DecodeGOOSE(1, pdu[:len(pdu)-2])
	require.Error(t, err)

	state := cb.State()
	assert.EqualValues(t, 0, state.SPDUNum)
	assert.EqualValues(t, 0, state.StNum)
}

func TestEncodeGOOSERejectsWrongKind(t *testing.T) {
	cb := scenarioACB()
	cb.Kind = KindSV
	_, _, err := cb.EncodeGOOSE([]byte{0x01}, time.Now())
	assert.Error(t, err)
}
