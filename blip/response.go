package blip

import "strconv"

// Response is a RPY or ERR message correlated to the Request that shares
// its message number (spec §4.3).
type Response struct {
	*Message
}

// NewResponse creates a writable RPY reply to req, sharing req's number
// and propagating its Urgent flag (spec §4.3: "Urgent propagation").
func (r *Request) NewResponse() *Response {
	m := newOutgoingMessage()
	m.setType(TypeRPY)
	m.number = r.Number()
	m.hasNumber = true
	m.flags = m.flags.set(FlagUrgent, r.Urgent())
	return &Response{Message: m}
}

// NewErrorResponse creates a writable ERR reply to req, sharing req's
// number. The error is encoded per spec §6 as Error-Code/Error-Domain
// properties plus a UTF-8 message body.
func (r *Request) NewErrorResponse(code ErrorCode, domain, message string) *Response {
	resp := r.NewResponse()
	resp.Message.flags = resp.Message.flags.withType(TypeERR)
	_ = resp.SetProperty("Error-Code", strconv.Itoa(int(code)))
	if domain == "" {
		domain = "BLIP"
	}
	_ = resp.SetProperty("Error-Domain", domain)
	_ = resp.SetBody([]byte(message))
	return resp
}

// newIncomingResponse wraps a freshly-completed incoming RPY/ERR message.
func newIncomingResponse(msg *Message) *Response {
	return &Response{Message: msg}
}

// IsError reports whether this response is an ERR (as opposed to RPY).
func (resp *Response) IsError() bool {
	return resp.Type() == TypeERR
}

// Err returns the response's error if IsError, or nil for a successful
// RPY. Per spec §6, a missing Error-Code defaults to 599 (Unspecified)
// and a missing Error-Domain defaults to "BLIP".
func (resp *Response) Err() error {
	if !resp.IsError() {
		return nil
	}
	domain, ok := resp.Property("Error-Domain")
	if !ok || domain == "" {
		domain = "BLIP"
	}
	code := ErrorCodeUnspecified
	if raw, ok := resp.Property("Error-Code"); ok {
		if n, err := strconv.Atoi(raw); err == nil {
			code = ErrorCode(n)
		}
	}
	return &BLIPError{
		Domain:  domain,
		Code:    code,
		Message: string(resp.Body()),
	}
}

// disconnectedResponse synthesizes an ERR response reporting that the
// connection closed before a real reply arrived (spec §4.4, §7). It is
// delivered to any Request still awaiting resolution at close time.
func disconnectedResponse(number MessageNumber) *Response {
	m := newOutgoingMessage()
	m.setType(TypeERR)
	m.number = number
	m.hasNumber = true
	_ = m.SetProperty("Error-Code", strconv.Itoa(int(ErrorCodeDisconnected)))
	_ = m.SetProperty("Error-Domain", "BLIP")
	_ = m.SetBody([]byte(ErrDisconnected.Message))
	_ = m.Encode()
	return &Response{Message: m}
}
