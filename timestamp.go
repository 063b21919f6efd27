package rgoose

import (
	"encoding/binary"
	"math"
	"time"
)

// timeQuality is the fixed quality octet used throughout this profile:
// leap-second-unknown=0, clock-failure=0, clock-synchronized=0, and 10 bits
// of claimed accuracy (binary value 0x0A).
const timeQuality = 0x0A

// encodeUtcTime packs now into the 8-byte UtcTime wire format shared by the
// GOOSE "t" field and the SV ASDU timestamp: 4 bytes seconds-since-epoch,
// 3 bytes fraction-of-second in units of 2^-24 seconds, 1 quality byte.
func encodeUtcTime(now time.Time) [8]byte {
	var out [8]byte
	secs := now.Unix()
	binary.BigEndian.PutUint32(out[0:4], uint32(secs))

	fracSeconds := float64(now.Nanosecond()) / 1e9
	fracUnits := uint32(math.Round(fracSeconds * float64(1<<24)))
	out[4] = byte(fracUnits >> 16)
	out[5] = byte(fracUnits >> 8)
	out[6] = byte(fracUnits)
	out[7] = timeQuality
	return out
}

// decodeUtcTime is the inverse of encodeUtcTime; the quality byte is
// discarded, as this profile does not interpret it on receipt.
func decodeUtcTime(b []byte) time.Time {
	secs := int64(binary.BigEndian.Uint32(b[0:4]))
	fracUnits := uint32(b[4])<<16 | uint32(b[5])<<8 | uint32(b[6])
	nsec := int64(float64(fracUnits) / float64(1<<24) * 1e9)
	return time.Unix(secs, nsec).UTC()
}
