package ber

import (
	"encoding/binary"
	"math"
)

// EncodeFloat32BE packs f into its 4-byte big-endian IEEE-754 representation
// (sign:1, exponent:8, mantissa:23, MSB-first). This uses explicit bit
// manipulation via math.Float32bits rather than a union/type-pun, which is
// undefined behavior in C and has no Go equivalent worth reaching for.
func EncodeFloat32BE(f float32) [4]byte {
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], math.Float32bits(f))
	return out
}

// DecodeFloat32BE is the inverse of EncodeFloat32BE.
func DecodeFloat32BE(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}
