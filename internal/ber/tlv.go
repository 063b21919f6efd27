package ber

// Elem is one (tag, length, valueOffset) triple from a single-byte-length
// BER TLV sequence.
type Elem struct {
	Tag         byte
	Length      byte
	ValueOffset int
}

// End returns the offset one past this element's value, i.e. the offset of
// the next element's tag.
func (e Elem) End() int {
	return e.ValueOffset + int(e.Length)
}

// Walk parses the single-byte-length BER TLV sequence in buf[start:end] and
// returns it as a slice of Elem, in order. It fails closed: any element
// whose value would run past end produces ErrMalformed and no partial
// result.
func Walk(buf []byte, start, end int) ([]Elem, error) {
	if start < 0 || end > len(buf) || start > end {
		return nil, &ErrMalformed{Reason: "walk range out of buffer bounds"}
	}
	var elems []Elem
	pos := start
	for pos < end {
		if pos+2 > end {
			return nil, &ErrMalformed{Reason: "truncated tag/length at end of TLV sequence"}
		}
		tag := buf[pos]
		length := buf[pos+1]
		valueOffset := pos + 2
		if valueOffset+int(length) > end {
			return nil, &ErrMalformed{Reason: "TLV value runs past end of sequence"}
		}
		elems = append(elems, Elem{Tag: tag, Length: length, ValueOffset: valueOffset})
		pos = valueOffset + int(length)
	}
	return elems, nil
}

// WalkOne parses exactly one TLV element starting at start and returns it
// along with the offset immediately following it. It is used by decoders
// that must interleave tag checks with payload interpretation rather than
// collecting the whole sequence up front.
func WalkOne(buf []byte, start, end int) (Elem, int, error) {
	if start < 0 || end > len(buf) || start+2 > end {
		return Elem{}, 0, &ErrMalformed{Reason: "truncated tag/length"}
	}
	tag := buf[start]
	length := buf[start+1]
	valueOffset := start + 2
	if valueOffset+int(length) > end {
		return Elem{}, 0, &ErrMalformed{Reason: "TLV value runs past buffer"}
	}
	elem := Elem{Tag: tag, Length: length, ValueOffset: valueOffset}
	return elem, elem.End(), nil
}
