package blip

import (
	"bytes"
	"compress/flate"
	"io"
	"sync"
)

// MaxUnackedBytes is the default flow-control window: an outgoing message
// may have at most this many unacknowledged payload bytes in flight before
// its sender pauses it (spec §3, invariant 1).
const MaxUnackedBytes = 128_000

// AckPaceBytes is the cadence at which an incoming message's receiver
// emits flow-control acknowledgements (spec §4.2, "Ack heuristic").
const AckPaceBytes = 50_000

// headerReserve is a conservative upper bound on the size of a frame's
// varint(number)||varint(flags) header, reserved out of NextFrame's
// max_size budget. Message numbers and flags both fit comfortably inside
// 5-byte varints in practice; 10 bytes leaves headroom without requiring
// NextFrame to know its own encoded header size up front.
const headerReserve = 10

// Message is the per-message state described in spec §3: an outgoing
// message being encoded and drained frame by frame, or an incoming message
// being assembled from the frames of its peer.
//
// Every method of a Message takes the Message's own mutex, so it may be
// called from multiple goroutines; per spec §5 it is owned by exactly one
// of the transport or delegate executors at any given time, handed off
// between them by the Connection.
type Message struct {
	mu sync.Mutex

	isMine     bool
	number     MessageNumber
	hasNumber  bool
	flags      Flags
	properties Properties
	body       []byte

	// Outgoing state.
	canWrite bool
	encoded  bool
	payload  []byte // property block + (possibly compressed) body; frame source
	sendPos  int

	bytesWritten int
	bytesAcked   int
	sent         bool
	complete     bool
	failed       bool
	onSent       func()

	// Incoming state.
	headerBuf     []byte // raw bytes pending property-block parse
	propsParsed   bool
	rawPayload    []byte // accumulated wire payload bytes, pre-decompression
	bytesReceived int
	decodeErr     error
}

// newOutgoingMessage creates a fresh, writable outgoing message.
func newOutgoingMessage() *Message {
	return &Message{
		isMine:     true,
		canWrite:   true,
		properties: make(Properties),
	}
}

// newIncomingMessage creates a new incoming message for the given number,
// seeded with the flags of its first frame.
func newIncomingMessage(number MessageNumber, flags Flags) *Message {
	return &Message{
		isMine: false,
		number: number,
		flags:  flags,
	}
}

// IsMine reports whether this message was created locally (outgoing) as
// opposed to received from the peer (incoming).
func (m *Message) IsMine() bool { return m.isMine }

// Number returns the message's sequence number. It is only meaningful
// after the message has been assigned one (outgoing: at send time;
// incoming: always set at construction).
func (m *Message) Number() MessageNumber { return m.number }

// Flags returns the message's current flag word.
func (m *Message) Flags() Flags {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flags
}

// Type returns the message's type (MSG/RPY/ERR/ACK-MSG/ACK-RPY).
func (m *Message) Type() MessageType { return m.Flags().Type() }

// Urgent reports whether the Urgent flag is set.
func (m *Message) Urgent() bool { return m.Flags().Has(FlagUrgent) }

// NoReply reports whether the NoReply flag is set.
func (m *Message) NoReply() bool { return m.Flags().Has(FlagNoReply) }

// Compressed reports whether the Compressed flag is set.
func (m *Message) Compressed() bool { return m.Flags().Has(FlagCompressed) }

// Properties returns a clone of the message's property map.
func (m *Message) Properties() Properties {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.properties.Clone()
}

// Property returns a single property value and whether it was present.
func (m *Message) Property(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.properties[key]
	return v, ok
}

// Body returns the message's body. For an outgoing message this is the
// bytes given to SetBody; for an incoming message it is the accumulated
// (and, if Compressed, decompressed) payload once Complete.
func (m *Message) Body() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.body
}

// CanWrite reports whether the message may still be mutated via
// SetBody/SetProperties/SetFlag (spec §3: true from creation until Encode).
func (m *Message) CanWrite() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canWrite
}

// Complete reports whether the last frame has been emitted (outgoing) or
// received (incoming).
func (m *Message) Complete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.complete
}

// Sent reports whether the sender has at least enqueued the message.
func (m *Message) Sent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

// BytesWritten returns the total payload bytes emitted so far (outgoing).
func (m *Message) BytesWritten() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytesWritten
}

// BytesAcked returns the most recent bytes_acked reported by the peer.
func (m *Message) BytesAcked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytesAcked
}

// BytesReceived returns the total payload bytes accepted so far (incoming).
func (m *Message) BytesReceived() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytesReceived
}

// UnackedBytes returns bytes_written - bytes_acked, the quantity invariant
// 1 (spec §3) bounds by MaxUnackedBytes while the message is incomplete.
func (m *Message) UnackedBytes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytesWritten - m.bytesAcked
}

// SetBody sets the outgoing body. Only legal while CanWrite.
func (m *Message) SetBody(body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.canWrite {
		return ErrFrozen
	}
	m.body = body
	return nil
}

// SetProperties replaces the outgoing property map. Only legal while
// CanWrite.
func (m *Message) SetProperties(p Properties) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.canWrite {
		return ErrFrozen
	}
	m.properties = p.Clone()
	if m.properties == nil {
		m.properties = make(Properties)
	}
	return nil
}

// SetProperty sets a single outgoing property. Only legal while CanWrite.
func (m *Message) SetProperty(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.canWrite {
		return ErrFrozen
	}
	if m.properties == nil {
		m.properties = make(Properties)
	}
	m.properties[key] = value
	return nil
}

// SetFlag sets or clears one of Urgent, NoReply, or Compressed. Only legal
// while CanWrite (spec §4.2).
func (m *Message) SetFlag(flag Flags, value bool) error {
	if flag&^(FlagUrgent|FlagNoReply|FlagCompressed) != 0 {
		return ErrInvalidFlag
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.canWrite {
		return ErrFrozen
	}
	m.flags = m.flags.set(flag, value)
	return nil
}

// setType sets the type bits (MSG/RPY/ERR). Used internally by Request and
// Response construction, before the message is ever queued.
func (m *Message) setType(t MessageType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags = m.flags.withType(t)
}

// assignNumber assigns the message its sequence number. A message may only
// be assigned a number once (spec §7, programming errors).
func (m *Message) assignNumber(n MessageNumber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasNumber {
		return ErrNumberAlreadyAssigned
	}
	m.number = n
	m.hasNumber = true
	return nil
}

// Encode freezes the message (CanWrite becomes false), builds the
// property block plus body payload, and wraps the body in a DEFLATE
// stream if Compressed is set. Per spec §9, only the body portion is
// compressed — the property block at the front of frame 1 is always
// plaintext so a receiver can peek it with a bounded read.
//
// Calling Encode twice, or mutating the message afterward, is a
// programming error.
func (m *Message) Encode() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.encoded {
		return ErrAlreadySent
	}
	m.canWrite = false
	m.encoded = true

	propBlock := encodeProperties(m.properties)

	bodyBytes := m.body
	if m.flags.Has(FlagCompressed) {
		var buf bytes.Buffer
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return err
		}
		if _, err := fw.Write(m.body); err != nil {
			return err
		}
		if err := fw.Close(); err != nil {
			return err
		}
		bodyBytes = buf.Bytes()
	}

	m.payload = make([]byte, 0, len(propBlock)+len(bodyBytes))
	m.payload = append(m.payload, propBlock...)
	m.payload = append(m.payload, bodyBytes...)

	if len(m.payload) == 0 {
		m.complete = true
	}
	return nil
}

// NextFrame produces the next wire frame for an outgoing message:
// varint(number) || varint(flags) || chunk. maxSize bounds the whole
// frame including its header. MoreComing is set iff payload remains
// after this chunk. Updates BytesWritten.
func (m *Message) NextFrame(maxSize int) (frame []byte, moreComing bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent = true
	chunkSize := maxSize - headerReserve
	if chunkSize < 0 {
		chunkSize = 0
	}

	end := m.sendPos + chunkSize
	if end > len(m.payload) {
		end = len(m.payload)
	}
	chunk := m.payload[m.sendPos:end]
	m.sendPos = end

	moreComing = m.sendPos < len(m.payload)
	m.flags = m.flags.set(FlagMoreComing, moreComing)
	m.bytesWritten += len(chunk)

	frame = encodeFrame(m.number, m.flags, chunk)

	if !moreComing {
		m.complete = true
	}
	return frame, moreComing, nil
}

// ReceivedAck applies an incoming ACK's bytes_acked value. Per spec §3
// invariant and §4.4, the value must be strictly increasing and may not
// exceed bytes_written; otherwise this is a fatal protocol error for the
// connection to close with.
func (m *Message) ReceivedAck(bytesAcked int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bytesAcked <= m.bytesAcked || bytesAcked > m.bytesWritten {
		return ErrBadFrame
	}
	m.bytesAcked = bytesAcked
	return nil
}

// ReceivedFrame appends one inbound frame's payload bytes to an incoming
// message. frameFlags is the flag word of this specific frame (its
// MoreComing bit reflects whether more frames will follow); body is the
// frame's payload after the varint header has been stripped.
//
// On the first frame whose accumulated prefix completes the property
// block, properties are parsed exactly once (spec §3 invariant 2); if
// Compressed was set, everything from that point on (remaining bytes of
// this frame plus all subsequent frames) is treated as a DEFLATE stream
// and decompressed once the message completes. Returns false on a
// malformed property block or decompression failure.
func (m *Message) ReceivedFrame(frameFlags Flags, body []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags |= frameFlags & FlagMoreComing

	if !m.propsParsed {
		m.headerBuf = append(m.headerBuf, body...)
		props, consumed, complete, err := decodeProperties(m.headerBuf)
		if err != nil {
			m.decodeErr = err
			return false, err
		}
		if !complete {
			// Not enough bytes yet for the property block; wait for more
			// frames. This is not an error: spec §4.1 calls this "not yet
			// complete" and requires the buffer be left untouched.
			if !frameFlags.Has(FlagMoreComing) {
				// The sender claims this was the last frame, yet the
				// property block never completed: malformed.
				err := ErrBadData
				m.decodeErr = err
				return false, err
			}
			return true, nil
		}
		m.properties = props
		m.propsParsed = true
		m.rawPayload = append(m.rawPayload, m.headerBuf[consumed:]...)
		m.headerBuf = nil
	} else {
		m.rawPayload = append(m.rawPayload, body...)
	}

	m.bytesReceived += len(body)

	if !frameFlags.Has(FlagMoreComing) {
		if err := m.finishIncoming(); err != nil {
			m.decodeErr = err
			return false, err
		}
		m.complete = true
	}
	return true, nil
}

// finishIncoming is called once, when the last frame of an incoming
// message arrives. It decompresses the accumulated payload if Compressed
// was set, or adopts it as-is otherwise.
func (m *Message) finishIncoming() error {
	if !m.flags.Has(FlagCompressed) {
		m.body = m.rawPayload
		return nil
	}
	fr := flate.NewReader(bytes.NewReader(m.rawPayload))
	defer fr.Close()
	decoded, err := io.ReadAll(fr)
	if err != nil {
		return ErrBadData
	}
	m.body = decoded
	return nil
}

// needsAck implements the ack-pacing heuristic from spec §4.2: emit an
// ack whenever bytes_received crosses a 50,000-byte boundary, the message
// has already received some bytes, and it is not yet complete.
func needsAck(oldBytesReceived, newBytesReceived int) bool {
	return oldBytesReceived > 0 && oldBytesReceived/AckPaceBytes < newBytesReceived/AckPaceBytes
}

// setOnSent registers a callback invoked once the message becomes
// complete on the sending side.
func (m *Message) setOnSent(fn func()) {
	m.mu.Lock()
	m.onSent = fn
	m.mu.Unlock()
}

// fireOnSent invokes the onSent callback, if any.
func (m *Message) fireOnSent() {
	m.mu.Lock()
	fn := m.onSent
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// clone returns a fresh outgoing message carrying the same body,
// properties, and Compressed/Urgent/NoReply flags as m, with its own
// lifecycle (spec §4.3 "Clone"): no number, CanWrite again.
func (m *Message) clone() *Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := newOutgoingMessage()
	clone.body = append([]byte(nil), m.body...)
	clone.properties = m.properties.Clone()
	clone.flags = m.flags & (FlagCompressed | FlagUrgent | FlagNoReply)
	return clone
}
