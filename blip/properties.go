package blip

import (
	"bytes"
	"encoding/binary"
)

// abbreviations is the fixed dictionary table used to compress frequently
// used property strings onto the wire as a single byte. The table must stay
// byte-for-byte identical to this list (spec §4.1, §9): compatibility
// between peers depends on positional indexing, 1-based on the wire.
var abbreviations = []string{
	"Profile",                       // 1
	"Error-Code",                    // 2
	"Error-Domain",                  // 3
	"Content-Type",                  // 4
	"application/json",              // 5
	"application/octet-stream",      // 6
	"text/plain; charset=UTF-8",     // 7
	"text/xml",                      // 8
	"Accept",                        // 9
	"Cache-Control",                 // 10
	"must-revalidate",               // 11
	"If-Match",                      // 12
	"If-None-Match",                 // 13
	"Location",                      // 14
}

// Properties is the string-keyed property map carried by every BLIP
// message (spec §3). Iteration order is irrelevant; encoding iterates in
// an arbitrary (Go map) order, which is fine because decode reconstructs
// the same map regardless of the order pairs appear on the wire.
type Properties map[string]string

// Clone returns a shallow copy of p.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// encodeToken appends s to dst as a wire token: either the single-byte
// abbreviation index (if s exactly matches a table entry) or its raw UTF-8
// bytes, followed by a NUL terminator.
func encodeToken(dst []byte, s string) []byte {
	for i, entry := range abbreviations {
		if entry == s {
			dst = append(dst, byte(i+1), 0)
			return dst
		}
	}
	dst = append(dst, s...)
	dst = append(dst, 0)
	return dst
}

// decodeToken reads one NUL-terminated token from the front of data,
// expanding it through the abbreviation table if applicable. It returns
// the decoded string and the number of bytes consumed (including the NUL).
func decodeToken(data []byte) (string, int, error) {
	nul := bytes.IndexByte(data, 0)
	if nul < 0 {
		return "", 0, ErrBadData
	}
	token := data[:nul]
	if len(token) == 1 && token[0] < 0x20 {
		idx := int(token[0])
		if idx < 1 || idx > len(abbreviations) {
			return "", 0, ErrBadData
		}
		return abbreviations[idx-1], nul + 1, nil
	}
	return string(token), nul + 1, nil
}

// encodeProperties renders p as a length-prefixed property block:
//
//	varint(length) || repeated( token(key) token(value) )
func encodeProperties(p Properties) []byte {
	var body []byte
	for k, v := range p {
		body = encodeToken(body, k)
		body = encodeToken(body, v)
	}

	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(body)))

	out := make([]byte, 0, n+len(body))
	out = append(out, tmp[:n]...)
	out = append(out, body...)
	return out
}

// decodeProperties parses a length-prefixed property block from the front
// of buf. If buf does not yet contain the whole block (the length varint
// itself is incomplete, or fewer than `length` bytes follow it), it
// reports complete=false and leaves buf untouched (the caller should wait
// for more data) — this is what lets a frame decoder bound-peek the block.
func decodeProperties(buf []byte) (props Properties, consumed int, complete bool, err error) {
	length, n := binary.Uvarint(buf)
	if n <= 0 {
		return nil, 0, false, nil
	}
	total := n + int(length)
	if total < n || len(buf) < total {
		return nil, 0, false, nil
	}

	block := buf[n:total]
	props = make(Properties)
	for len(block) > 0 {
		key, kn, err := decodeToken(block)
		if err != nil {
			return nil, 0, false, err
		}
		block = block[kn:]

		value, vn, err := decodeToken(block)
		if err != nil {
			return nil, 0, false, err
		}
		block = block[vn:]

		props[key] = value
	}

	return props, total, true, nil
}
