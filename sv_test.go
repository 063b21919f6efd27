package rgoose

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioSVCB() *ControlBlock {
	return &ControlBlock{
		HostIED:     "IED1",
		Kind:        KindSV,
		MulticastIP: net.ParseIP("239.192.0.2"),
		AppID:       0x4001,
		CBName:      "LD0/LLN0.msvcb01",
	}
}

func sampleVector(base float32) [samplesPerASDU]float32 {
	var samples [samplesPerASDU]float32
	for i := range samples {
		samples[i] = base + float32(i)
	}
	return samples
}

func TestSVEncodeDecodeRoundTrip(t *testing.T) {
	cb := scenarioSVCB()
	now := time.Unix(1_700_000_000, 0)
	samples := sampleVector(1.5)

	spduNum, pdu, err := cb.EncodeSV(samples, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, spduNum)

	rxCB := scenarioSVCB()
	msg, err := rxCB.DecodeSV(spduNum, pdu)
	require.NoError(t, err)
	assert.Equal(t, samples, msg.Samples)
	assert.EqualValues(t, 1, msg.SmpCnt)
}

func TestSVSmpCntIncrementsAndWraps(t *testing.T) {
	cb := scenarioSVCB()
	cb.state.SmpCnt = 3999
	now := time.Unix(1_700_000_000, 0)

	_, pdu, err := cb.EncodeSV(sampleVector(0), now)
	require.NoError(t, err)
	assert.EqualValues(t, 0, cb.state.SmpCnt)

	rxCB := scenarioSVCB()
	rxCB.state.SmpCnt = 3999
	msg, err := rxCB.DecodeSV(1, pdu)
	require.NoError(t, err)
	assert.EqualValues(t, 0, msg.SmpCnt)
}

func TestSVDecodeRejectsSmpCntDuplicate(t *testing.T) {
	cb := scenarioSVCB()
	now := time.Unix(1_700_000_000, 0)

	encodeCB := scenarioSVCB()
	encodeCB.state.SmpCnt = 49
	_, pdu, err := encodeCB.EncodeSV(sampleVector(0), now)
	require.NoError(t, err)

	cb.state.SmpCnt = 100
	_, err = cb.DecodeSV(1, pdu)
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, KindDuplicate, decErr.Kind)
}

func TestSVDecodeRejectsSvIDMismatch(t *testing.T) {
	cb := scenarioSVCB()
	now := time.Unix(1_700_000_000, 0)
	_, pdu, err := cb.EncodeSV(sampleVector(0), now)
	require.NoError(t, err)

	other := scenarioSVCB()
	other.CBName = "LD0/LLN0.other"
	_, err = other.DecodeSV(1, pdu)
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, KindMismatch, decErr.Kind)
}

func TestSVDecodeRejectsTruncatedSampleData(t *testing.T) {
	cb := scenarioSVCB()
	now := time.Unix(1_700_000_000, 0)
	_, pdu, err := cb.EncodeSV(sampleVector(0), now)
	require.NoError(t, err)

	other := scenarioSVCB()
	_, err = other.DecodeSV(1, pdu[:len(pdu)-4])
	require.Error(t, err)

	state := other.State()
	assert.EqualValues(t, 0, state.SPDUNum)
}

func TestEncodeSVRejectsWrongKind(t *testing.T) {
	cb := scenarioSVCB()
	cb.Kind = KindGOOSE
	_, _, err := cb.EncodeSV(sampleVector(0), time.Now())
	assert.Error(t, err)
}
