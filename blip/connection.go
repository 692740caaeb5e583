package blip

import (
	"encoding/binary"
	"errors"
	"sync"
)

// DefaultMaxFrameSize bounds how many bytes (including the frame's own
// varint header) a single NextFrame call will emit. It keeps any one
// message from monopolizing the underlying transport message-by-message
// while other queued messages are waiting their turn.
const DefaultMaxFrameSize = 4096

// HandlerFunc processes one completed incoming request. It runs on the
// Connection's delegate executor (spec §5): handlers for different
// requests never run concurrently with each other, but they do run
// concurrently with frame I/O on the transport executor.
type HandlerFunc func(req *Request)

// Option configures a Connection at construction time.
type Option func(*Connection)

// WithLogger installs a Logger for diagnostic output. The default is a
// no-op logger.
func WithLogger(l Logger) Option {
	return func(c *Connection) { c.logger = l }
}

// WithMaxFrameSize overrides DefaultMaxFrameSize.
func WithMaxFrameSize(n int) Option {
	return func(c *Connection) { c.maxFrameSize = n }
}

// WithDefaultHandler installs a fallback HandlerFunc invoked for requests
// whose Profile has no registered handler (instead of an automatic
// NotFound error).
func WithDefaultHandler(h HandlerFunc) Option {
	return func(c *Connection) { c.defaultHandler = h }
}

// Connection is the BLIP multiplexer: one per peer-to-peer session, bound
// to a Transport (spec §4.4). It assigns outgoing message numbers,
// tracks every in-flight message in both directions, schedules outgoing
// frames with urgent-message priority and flow control, and dispatches
// completed incoming requests to registered profile handlers.
type Connection struct {
	transport    Transport
	logger       Logger
	maxFrameSize int

	mu sync.Mutex

	nextOutNumber MessageNumber
	nextInNumber  MessageNumber

	outbox []*Message
	icebox map[MessageNumber]*Message

	sendingByNumber map[MessageNumber]*Message   // every outgoing message not yet fully sent
	pendingRequests map[MessageNumber]*Request   // outgoing requests awaiting a response
	pendingReplies  map[MessageNumber]struct{}    // incoming requests awaiting a handler reply
	incoming        map[MessageNumber]*Message   // partially-received messages, either direction

	handlers       map[string]HandlerFunc
	defaultHandler HandlerFunc

	wakeCh     chan struct{}
	controlCh  chan []byte
	delegateCh chan func()
	doneCh     chan struct{}

	closeOnce sync.Once
	closed    bool
	closeErr  error
}

// NewConnection creates a Connection over t and starts its internal send
// and dispatch loops. The caller is responsible for feeding inbound wire
// frames to ReceivedFrame as they arrive (see package transport).
func NewConnection(t Transport, opts ...Option) *Connection {
	c := &Connection{
		transport:       t,
		logger:          nopLogger{},
		maxFrameSize:    DefaultMaxFrameSize,
		nextOutNumber:   1,
		nextInNumber:    1,
		icebox:          make(map[MessageNumber]*Message),
		sendingByNumber: make(map[MessageNumber]*Message),
		pendingRequests: make(map[MessageNumber]*Request),
		pendingReplies:  make(map[MessageNumber]struct{}),
		incoming:        make(map[MessageNumber]*Message),
		handlers:        make(map[string]HandlerFunc),
		wakeCh:          make(chan struct{}, 1),
		controlCh:       make(chan []byte, 16),
		delegateCh:      make(chan func(), 256),
		doneCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.runFeedLoop()
	go c.runDelegateLoop()
	return c
}

// HandleProfile registers fn as the handler for incoming requests whose
// Profile property equals name.
func (c *Connection) HandleProfile(name string, fn HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = fn
}

// Closed reports whether the connection has been closed.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Err returns the error the connection closed with, or nil if it closed
// cleanly or is still open.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Close shuts the connection down cleanly.
func (c *Connection) Close() error {
	return c.closeWith(nil)
}

// CloseWithError shuts the connection down and records err as the value
// Err returns. Requests still waiting for a response are resolved with a
// synthesized Disconnected error, whatever err is.
func (c *Connection) CloseWithError(err error) error {
	return c.closeWith(err)
}

func (c *Connection) closeWith(err error) error {
	var transportErr error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.closeErr = err
		pending := c.pendingRequests
		c.pendingRequests = nil
		c.mu.Unlock()

		close(c.doneCh)

		for num, req := range pending {
			req.resolve(disconnectedResponse(num))
		}

		transportErr = c.transport.Close()
	})
	return transportErr
}

// failTransport handles an unrecoverable transport I/O error: the
// underlying channel is gone, so the connection always closes.
func (c *Connection) failTransport(err error) {
	c.CloseWithError(err)
}

// failProtocol handles an error surfaced while decoding or applying
// incoming wire data. Per spec §7/§9, only a genuine protocol violation
// (a *BLIPError) is fatal; anything else is logged and the connection
// stays up. This is a deliberate fix of a known reference-implementation
// bug that closed the connection unconditionally on any dispatch error.
func (c *Connection) failProtocol(err error) {
	var be *BLIPError
	if errors.As(err, &be) {
		c.CloseWithError(be)
		return
	}
	c.logger.Errorf("blip: non-fatal error, connection staying open: %v", err)
}

// ReceivedFrame is the ingestion point for one complete inbound wire
// frame. Transport adapters call this directly from their own read loop
// (the "transport executor" of spec §5) for every message they receive.
func (c *Connection) ReceivedFrame(raw []byte) {
	hdr, body, err := decodeFrame(raw)
	if err != nil {
		c.failProtocol(err)
		return
	}
	c.handleFrame(hdr.number, hdr.flags, body)
}

func (c *Connection) handleFrame(number MessageNumber, flags Flags, body []byte) {
	t := flags.Type()
	switch {
	case t.isAck():
		c.handleAck(number, body)
	case t == TypeMSG:
		c.handleIncomingMSG(number, flags, body)
	case t == TypeRPY || t == TypeERR:
		c.handleIncomingReply(number, flags, body)
	default:
		c.failProtocol(ErrBadFrame)
	}
}

// incomingMessageFor returns the in-progress Message for number, creating
// it if number is exactly the next expected incoming MSG number (spec §3
// invariant 5: incoming MSG numbers are strictly sequential starting at
// 1). ok is false if number is neither already in progress nor the
// expected next number — a fatal BadFrame per spec §4.4.
func (c *Connection) incomingMessageFor(number MessageNumber, flags Flags) (msg *Message, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg, exists := c.incoming[number]; exists {
		return msg, true
	}
	if number != c.nextInNumber {
		return nil, false
	}
	msg = newIncomingMessage(number, flags)
	c.incoming[number] = msg
	c.nextInNumber++
	return msg, true
}

// incomingReplyMessageFor is incomingMessageFor's counterpart for RPY/ERR
// frames: a brand-new reply number must refer to a request number this
// connection has already assigned (i.e. be below nextOutNumber). Any
// other number is a fatal BadFrame per spec §4.4.
func (c *Connection) incomingReplyMessageFor(number MessageNumber, flags Flags) (msg *Message, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg, exists := c.incoming[number]; exists {
		return msg, true
	}
	if number >= c.nextOutNumber {
		return nil, false
	}
	msg = newIncomingMessage(number, flags)
	c.incoming[number] = msg
	return msg, true
}

func (c *Connection) handleIncomingMSG(number MessageNumber, flags Flags, body []byte) {
	msg, ok := c.incomingMessageFor(number, flags)
	if !ok {
		c.failProtocol(ErrBadFrame)
		return
	}

	oldReceived := msg.BytesReceived()
	_, err := msg.ReceivedFrame(flags, body)
	if err != nil {
		c.failProtocol(err)
		return
	}
	newReceived := msg.BytesReceived()
	if !msg.Complete() {
		if needsAck(oldReceived, newReceived) {
			c.sendAck(number, TypeAckMSG, newReceived)
		}
		return
	}

	c.mu.Lock()
	delete(c.incoming, number)
	c.mu.Unlock()

	if flags.Has(FlagMeta) {
		c.dispatchMeta(msg)
		return
	}

	req := newIncomingRequest(msg, c)
	if !req.NoReply() {
		c.mu.Lock()
		c.pendingReplies[number] = struct{}{}
		c.mu.Unlock()
	}
	c.dispatch(req)
}

// dispatchMeta handles a request with the Meta flag set. Metadata
// requests (peer introspection, protocol negotiation extensions) are not
// implemented; per design decision, any such request that expects a
// reply gets a NotFound error rather than being silently dropped or
// routed to an ordinary profile handler.
func (c *Connection) dispatchMeta(msg *Message) {
	req := newIncomingRequest(msg, c)
	if req.NoReply() {
		return
	}
	c.mu.Lock()
	c.pendingReplies[req.Number()] = struct{}{}
	c.mu.Unlock()
	_ = c.sendResponse(req.NewErrorResponse(ErrorCodeNotFound, "BLIP", "meta requests are not supported"))
}

func (c *Connection) handleIncomingReply(number MessageNumber, flags Flags, body []byte) {
	msg, ok := c.incomingReplyMessageFor(number, flags)
	if !ok {
		c.failProtocol(ErrBadFrame)
		return
	}

	oldReceived := msg.BytesReceived()
	_, err := msg.ReceivedFrame(flags, body)
	if err != nil {
		c.failProtocol(err)
		return
	}
	newReceived := msg.BytesReceived()
	if !msg.Complete() {
		if needsAck(oldReceived, newReceived) {
			c.sendAck(number, TypeAckRPY, newReceived)
		}
		return
	}

	c.mu.Lock()
	delete(c.incoming, number)
	req, found := c.pendingRequests[number]
	if found {
		delete(c.pendingRequests, number)
	}
	c.mu.Unlock()

	if found {
		req.resolve(newIncomingResponse(msg))
	}
	// A reply with no matching pending request (NoReply request, or a
	// duplicate/late reply) is benign and simply dropped.
}

func (c *Connection) handleAck(number MessageNumber, body []byte) {
	bytesAcked, n := binary.Uvarint(body)
	if n <= 0 {
		c.failProtocol(ErrBadFrame)
		return
	}

	c.mu.Lock()
	msg, found := c.sendingByNumber[number]
	c.mu.Unlock()
	if !found {
		// Message already completed and forgotten; a trailing ack is benign.
		return
	}

	if err := msg.ReceivedAck(int(bytesAcked)); err != nil {
		c.failProtocol(err)
		return
	}

	c.mu.Lock()
	_, iced := c.icebox[number]
	resumed := iced && msg.UnackedBytes() < MaxUnackedBytes
	if resumed {
		delete(c.icebox, number)
		c.enqueueOutgoingLocked(msg)
	}
	c.mu.Unlock()
	if resumed {
		c.signalFeed()
	}
}

// sendAck emits a small ACK-MSG/ACK-RPY control frame directly, bypassing
// the outbox: acks are not themselves flow-controlled, and must not queue
// behind large application messages they exist to unblock.
func (c *Connection) sendAck(number MessageNumber, ackType MessageType, bytesAcked int) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(bytesAcked))
	frame := encodeFrame(number, Flags(ackType), tmp[:n])
	select {
	case c.controlCh <- frame:
	case <-c.doneCh:
	}
}

// dispatch hands req to the delegate executor for handler invocation.
func (c *Connection) dispatch(req *Request) {
	select {
	case c.delegateCh <- func() { c.invokeHandler(req) }:
	case <-c.doneCh:
	}
}

func (c *Connection) invokeHandler(req *Request) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Errorf("blip: handler for %v panicked: %v", req.Number(), rec)
			c.autoReplyIfNeeded(req, NewBLIPError(ErrorCodeHandlerFailed, "handler panicked"))
			return
		}
		c.autoReplyIfNeeded(req, nil)
	}()

	name, _ := req.Profile()
	c.mu.Lock()
	h := c.handlers[name]
	c.mu.Unlock()
	if h == nil {
		h = c.defaultHandler
	}
	if h == nil {
		c.autoReplyIfNeeded(req, NewBLIPError(ErrorCodeNotFound, "no handler registered for profile "+name))
		return
	}
	h(req)
}

// autoReplyIfNeeded sends a default response for req if its handler
// returned (or panicked) without ever calling Respond itself: an empty
// RPY on success, or an ERR carrying failure on failure.
func (c *Connection) autoReplyIfNeeded(req *Request, failure *BLIPError) {
	if req.NoReply() {
		return
	}
	c.mu.Lock()
	_, pending := c.pendingReplies[req.Number()]
	c.mu.Unlock()
	if !pending {
		return
	}

	var resp *Response
	if failure != nil {
		resp = req.NewErrorResponse(failure.Code, failure.Domain, failure.Message)
	} else {
		resp = req.NewResponse()
	}
	_ = c.sendResponse(resp)
}

// sendResponse finalizes and enqueues resp as the (sole) reply to the
// request sharing its number.
func (c *Connection) sendResponse(resp *Response) error {
	num := resp.Number()

	c.mu.Lock()
	if _, pending := c.pendingReplies[num]; !pending {
		c.mu.Unlock()
		return ErrAlreadySent
	}
	delete(c.pendingReplies, num)
	c.mu.Unlock()

	if err := resp.Encode(); err != nil {
		return err
	}

	c.mu.Lock()
	c.sendingByNumber[num] = resp.Message
	c.mu.Unlock()

	c.enqueueOutgoing(resp.Message)
	return nil
}

// SendRequest assigns req a message number, registers it to receive a
// response (unless NoReply), and enqueues it for sending.
func (c *Connection) SendRequest(req *Request) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	num := c.nextOutNumber
	c.nextOutNumber++
	c.mu.Unlock()

	if err := req.assignNumber(num); err != nil {
		return err
	}
	if err := req.Encode(); err != nil {
		return err
	}

	c.mu.Lock()
	if !req.NoReply() {
		c.pendingRequests[num] = req
	}
	c.sendingByNumber[num] = req.Message
	c.mu.Unlock()

	c.enqueueOutgoing(req.Message)
	return nil
}

// enqueueOutgoing inserts msg into the outbox on first send, applying the
// urgent-message priority rule from spec §4.4. Requeue after a partial
// write and icebox-to-outbox resume after an ack lifts flow control call
// enqueueOutgoingLocked directly under c.mu; every path goes through that
// insertion, so the priority rule applies every time a message is
// (re)queued, not just the first.
func (c *Connection) enqueueOutgoing(msg *Message) {
	c.mu.Lock()
	c.enqueueOutgoingLocked(msg)
	c.mu.Unlock()
	c.signalFeed()
}

// enqueueOutgoingLocked does the actual priority-interleaved insertion
// described in spec §4.4: a newly (re)queued urgent message is inserted
// two slots after the last currently-queued urgent message (or near the
// front if there is none), so that urgent traffic gets ahead of ordinary
// traffic without completely starving it. It also marks msg as sent.
// Callers must hold c.mu.
func (c *Connection) enqueueOutgoingLocked(msg *Message) {
	msg.mu.Lock()
	msg.sent = true
	msg.mu.Unlock()

	if !msg.Urgent() {
		c.outbox = append(c.outbox, msg)
		return
	}

	lastUrgent := -1
	for i, m := range c.outbox {
		if m.Urgent() {
			lastUrgent = i
		}
	}
	pos := lastUrgent + 2
	if pos > len(c.outbox) {
		pos = len(c.outbox)
	}
	c.outbox = append(c.outbox, nil)
	copy(c.outbox[pos+1:], c.outbox[pos:])
	c.outbox[pos] = msg
}

func (c *Connection) dequeueOutbox() *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.outbox) == 0 {
		return nil
	}
	msg := c.outbox[0]
	c.outbox = c.outbox[1:]
	return msg
}

func (c *Connection) signalFeed() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// requeueAfterFrame decides what happens to msg after one of its frames
// has just been written: nothing further if it completed, icebox if flow
// control now caps it, or back onto the outbox for its next turn.
func (c *Connection) requeueAfterFrame(msg *Message, moreComing bool) {
	if !moreComing {
		msg.fireOnSent()
		c.mu.Lock()
		delete(c.sendingByNumber, msg.Number())
		c.mu.Unlock()
		return
	}
	if msg.UnackedBytes() >= MaxUnackedBytes {
		c.mu.Lock()
		c.icebox[msg.Number()] = msg
		c.mu.Unlock()
		return
	}
	c.mu.Lock()
	c.enqueueOutgoingLocked(msg)
	c.mu.Unlock()
	c.signalFeed()
}

// runFeedLoop is the transport executor's send side (spec §5): it drains
// control frames (acks) and outbox messages, writing exactly one frame to
// the transport at a time.
func (c *Connection) runFeedLoop() {
	for {
		select {
		case frame := <-c.controlCh:
			if err := c.transport.SendFrame(frame); err != nil {
				c.failTransport(err)
				return
			}
			continue
		case <-c.doneCh:
			return
		default:
		}

		msg := c.dequeueOutbox()
		if msg == nil {
			select {
			case <-c.wakeCh:
				continue
			case frame := <-c.controlCh:
				if err := c.transport.SendFrame(frame); err != nil {
					c.failTransport(err)
					return
				}
				continue
			case <-c.doneCh:
				return
			}
		}

		frame, moreComing, err := msg.NextFrame(c.maxFrameSize)
		if err != nil {
			c.failTransport(err)
			return
		}
		if err := c.transport.SendFrame(frame); err != nil {
			c.failTransport(err)
			return
		}
		c.requeueAfterFrame(msg, moreComing)
	}
}

// runDelegateLoop is the delegate executor (spec §5): it invokes one
// handler callback at a time, never concurrently with another.
func (c *Connection) runDelegateLoop() {
	for {
		select {
		case fn := <-c.delegateCh:
			fn()
		case <-c.doneCh:
			return
		}
	}
}
