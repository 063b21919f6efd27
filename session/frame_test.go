package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	pdu := []byte{0x61, 0x81, 0x04, 0xAA, 0xBB, 0xCC, 0xDD}
	buf := Encode(nil, KindGOOSE, 0x4001, 42, pdu)

	frame, err := Decode(nil, buf)
	require.NoError(t, err)
	assert.Equal(t, KindGOOSE, frame.Kind)
	assert.EqualValues(t, 0x4001, frame.AppID)
	assert.EqualValues(t, 42, frame.SPDUNum)
	assert.Equal(t, pdu, frame.PDU)
}

func TestEncodeDecodeSV(t *testing.T) {
	pdu := []byte{0x60, 0x80, 0x02, 0x01, 0x02}
	buf := Encode(nil, KindSV, 0x5000, 7, pdu)

	frame, err := Decode(nil, buf)
	require.NoError(t, err)
	assert.Equal(t, KindSV, frame.Kind)
	assert.Equal(t, pdu, frame.PDU)
}

func TestDecodeRejectsShortDatagram(t *testing.T) {
	_, err := Decode(nil, []byte{0x01, 0x40, 0xA1})
	assert.Error(t, err)
}

func TestDecodeRejectsBadLI(t *testing.T) {
	buf := Encode(nil, KindGOOSE, 1, 1, []byte{0x61, 0x81, 0x00})
	buf[0] = 0x02
	_, err := Decode(nil, buf)
	assert.Error(t, err)
}

func TestDecodeRejectsWrongPayloadTypeForSI(t *testing.T) {
	buf := Encode(nil, KindGOOSE, 1, 1, []byte{0x61, 0x81, 0x00})
	buf[32] = payloadSV
	_, err := Decode(nil, buf)
	assert.Error(t, err)
}

func TestDecodeRejectsTruncatedPDU(t *testing.T) {
	buf := Encode(nil, KindGOOSE, 1, 1, []byte{0x61, 0x81, 0x00})
	_, err := Decode(nil, buf[:len(buf)-3])
	assert.Error(t, err)
}

func TestDecodeRejectsMismatchedSPDULength(t *testing.T) {
	buf := Encode(nil, KindGOOSE, 1, 1, []byte{0x61, 0x81, 0x00})
	buf[9] ^= 0xFF
	_, err := Decode(nil, buf)
	assert.Error(t, err)
}

func TestDecodeRejectsMismatchedCommonHeaderLI(t *testing.T) {
	buf := Encode(nil, KindGOOSE, 1, 1, []byte{0x61, 0x81, 0x00})
	buf[3] = 0x00
	_, err := Decode(nil, buf)
	assert.Error(t, err)
}

type rejectSigner struct{}

func (rejectSigner) Sign(pdu []byte) []byte       { return []byte{0x01} }
func (rejectSigner) Verify(pdu, sig []byte) error { return errors.New("signature rejected") }

func TestDecodeHonorsSignerVerify(t *testing.T) {
	buf := Encode(rejectSigner{}, KindGOOSE, 1, 1, []byte{0x61, 0x81, 0x00})
	_, err := Decode(rejectSigner{}, buf)
	assert.Error(t, err)
}
