package message

// Request is one decoded request as it travels through the provider's
// middleware chain.
type Request struct {
	Header RPCHeader
	Args   []byte // serialized arguments, Header.ArgsSize bytes
	Peer   string // remote address of the caller
}

// ServiceMethod returns "Service.Method".
func (r *Request) ServiceMethod() string {
	return r.Header.ServiceName + "." + r.Header.MethodName
}

// Response is what a handler produced for a Request.
//
//   - On success Payload holds the serialized response message and Error is empty.
//   - On failure Error is non-empty; nothing is written back and the provider
//     closes the connection so the caller observes the failure.
type Response struct {
	Payload []byte
	Error   string
}

// Failed builds a failed Response.
func Failed(reason string) *Response {
	return &Response{Error: reason}
}
