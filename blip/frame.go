package blip

import (
	"encoding/binary"
)

// MaxFlag is the largest value the flags varint may carry. The wire format
// reserves room for future expansion (the decoder accepts varints up to 64
// bits) but any decoded value above MaxFlag is rejected as BadFrame.
const MaxFlag = 0xFF

// frameHeader is the decoded varint-prefixed header of one wire frame:
//
//	varint(message_number) || varint(flags) || payload
//
// Every transport message carries exactly one BLIP frame (spec §6).
type frameHeader struct {
	number MessageNumber
	flags  Flags
}

// MessageNumber is the unsigned 32-bit sequence number assigned to a
// message by its sender (spec §3).
type MessageNumber uint32

// decodeFrameHeader parses the leading varint(number) || varint(flags)
// prefix of a frame. It returns the header, the number of bytes consumed,
// and an error. A malformed varint or a flags value above MaxFlag yields
// ErrBadFrame.
func decodeFrameHeader(buf []byte) (frameHeader, int, error) {
	number, n1 := binary.Uvarint(buf)
	if n1 <= 0 {
		return frameHeader{}, 0, ErrBadFrame
	}
	flagsVal, n2 := binary.Uvarint(buf[n1:])
	if n2 <= 0 {
		return frameHeader{}, 0, ErrBadFrame
	}
	if flagsVal > MaxFlag {
		return frameHeader{}, 0, ErrBadFrame
	}
	if number > 0xFFFFFFFF {
		return frameHeader{}, 0, ErrBadFrame
	}
	return frameHeader{
		number: MessageNumber(number),
		flags:  Flags(flagsVal),
	}, n1 + n2, nil
}

// encodeFrameHeader appends the varint-encoded number and flags to dst and
// returns the result.
func encodeFrameHeader(dst []byte, number MessageNumber, flags Flags) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(number))
	dst = append(dst, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], uint64(flags))
	dst = append(dst, tmp[:n]...)
	return dst
}

// decodeFrame splits a whole transport message into its header and payload.
// It is the inverse of encodeFrame.
func decodeFrame(raw []byte) (frameHeader, []byte, error) {
	hdr, n, err := decodeFrameHeader(raw)
	if err != nil {
		return frameHeader{}, nil, err
	}
	return hdr, raw[n:], nil
}

// encodeFrame builds one complete wire frame: header followed by payload.
func encodeFrame(number MessageNumber, flags Flags, payload []byte) []byte {
	buf := make([]byte, 0, binary.MaxVarintLen64*2+len(payload))
	buf = encodeFrameHeader(buf, number, flags)
	buf = append(buf, payload...)
	return buf
}
