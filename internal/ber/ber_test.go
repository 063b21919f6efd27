package ber

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadUintBE(t *testing.T) {
	buf := []byte{0x00, 0x01, 0x02, 0x03, 0x04}
	v, err := ReadUintBE(buf, 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 0x0102, v)

	_, err = ReadUintBE(buf, 3, 4)
	assert.Error(t, err)

	_, err = ReadUintBE(buf, 0, 5)
	assert.Error(t, err)
}

func TestWriteUintMinLen(t *testing.T) {
	cases := []struct {
		in  uint32
		out []byte
	}{
		{0, []byte{0x00}},
		{0xFF, []byte{0xFF}},
		{0x100, []byte{0x01, 0x00}},
		{0xFFFF, []byte{0xFF, 0xFF}},
		{0x10000, []byte{0x01, 0x00, 0x00}},
		{0xFFFFFF, []byte{0xFF, 0xFF, 0xFF}},
		{0x1000000, []byte{0x01, 0x00, 0x00, 0x00}},
		{0xFFFFFFFF, []byte{0xFF, 0xFF, 0xFF, 0xFF}},
	}
	for _, c := range cases {
		assert.Equal(t, c.out, WriteUintMinLen(c.in))
	}
}

func TestWalk(t *testing.T) {
	// two elements: tag 0x80 len 2 "hi", tag 0x81 len 1 0x05
	buf := []byte{0x80, 0x02, 'h', 'i', 0x81, 0x01, 0x05}
	elems, err := Walk(buf, 0, len(buf))
	require.NoError(t, err)
	require.Len(t, elems, 2)
	assert.Equal(t, byte(0x80), elems[0].Tag)
	assert.Equal(t, "hi", string(buf[elems[0].ValueOffset:elems[0].End()]))
	assert.Equal(t, byte(0x81), elems[1].Tag)
	assert.Equal(t, byte(0x05), buf[elems[1].ValueOffset])
}

func TestWalkTruncated(t *testing.T) {
	buf := []byte{0x80, 0x05, 'h', 'i'}
	_, err := Walk(buf, 0, len(buf))
	assert.Error(t, err)
}

func TestWalkOne(t *testing.T) {
	buf := []byte{0x80, 0x02, 'h', 'i', 0x81, 0x01, 0x05}
	elem, next, err := WalkOne(buf, 0, len(buf))
	require.NoError(t, err)
	assert.Equal(t, byte(0x80), elem.Tag)
	assert.Equal(t, 4, next)

	elem2, next2, err := WalkOne(buf, next, len(buf))
	require.NoError(t, err)
	assert.Equal(t, byte(0x81), elem2.Tag)
	assert.Equal(t, len(buf), next2)
}

func TestFloat32RoundTrip(t *testing.T) {
	values := []float32{0, 1, -1, 3.14159, -273.15, 1e30, -1e-30}
	for _, f := range values {
		enc := EncodeFloat32BE(f)
		got := DecodeFloat32BE(enc[:])
		assert.Equal(t, f, got)
	}
}
