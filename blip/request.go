package blip

import "sync"

// Request is an outgoing or incoming MSG message (spec §4.3). A Request
// created locally via NewRequest is writable until it is sent; a Request
// delivered to a registered handler is already complete and read-only.
type Request struct {
	*Message

	mu       sync.Mutex
	response *Response
	waiters  []chan *Response

	conn *Connection // set only for incoming requests, to support Respond/Reply
}

// NewRequest creates a new, writable outgoing request.
func NewRequest() *Request {
	m := newOutgoingMessage()
	m.setType(TypeMSG)
	return &Request{Message: m}
}

// newIncomingRequest wraps a freshly-completed incoming MSG message,
// associating it with the Connection that received it so handlers can
// reply via Respond/Reply/ReplyWithError.
func newIncomingRequest(msg *Message, conn *Connection) *Request {
	return &Request{Message: msg, conn: conn}
}

// Respond sends resp as the reply to this request. It is a programming
// error to call it for a NoReply request, more than once for the same
// request, or from outside a registered handler.
func (r *Request) Respond(resp *Response) error {
	if r.conn == nil {
		return ErrConnectionClosed
	}
	return r.conn.sendResponse(resp)
}

// Reply is a convenience that builds and sends a successful RPY carrying
// body.
func (r *Request) Reply(body []byte) error {
	resp := r.NewResponse()
	if err := resp.SetBody(body); err != nil {
		return err
	}
	return r.Respond(resp)
}

// ReplyWithError is a convenience that builds and sends an ERR response.
func (r *Request) ReplyWithError(code ErrorCode, domain, message string) error {
	return r.Respond(r.NewErrorResponse(code, domain, message))
}

// SetProfile is a convenience for SetProperty("Profile", name): Profile is
// the conventional routing key used by Connection.HandleProfile (spec §6).
func (r *Request) SetProfile(name string) error {
	return r.SetProperty("Profile", name)
}

// Profile returns the request's Profile property, if any.
func (r *Request) Profile() (string, bool) {
	return r.Property("Profile")
}

// Response returns the Response object for this request, blocking until
// one arrives or the connection closes. If the request has NoReply set,
// it returns ErrNoReplyExpected immediately: no response was ever
// allocated for it (spec §4.3).
func (r *Request) Response() (*Response, error) {
	if r.NoReply() {
		return nil, ErrNoReplyExpected
	}

	r.mu.Lock()
	if r.response != nil {
		resp := r.response
		r.mu.Unlock()
		return resp, nil
	}
	ch := make(chan *Response, 1)
	r.waiters = append(r.waiters, ch)
	r.mu.Unlock()

	resp := <-ch
	return resp, nil
}

// resolve delivers resp to the request's caller(s) and any concurrent
// waiters blocked in Response(). Called by the Connection once a
// completed RPY/ERR (or a synthesized Disconnected error) correlates to
// this request's number.
func (r *Request) resolve(resp *Response) {
	r.mu.Lock()
	r.response = resp
	waiters := r.waiters
	r.waiters = nil
	r.mu.Unlock()

	for _, ch := range waiters {
		ch <- resp
	}
}

// Clone returns a fresh, writable Request carrying the same body,
// properties, and flags as r, with no number and no association with any
// connection (spec §4.3).
func (r *Request) Clone() *Request {
	m := r.Message.clone()
	m.setType(TypeMSG)
	return &Request{Message: m}
}
