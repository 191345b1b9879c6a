package sip

import (
	"log/slog"
	"net/netip"

	sipgo "github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipedge/internal/types"
)

type (
	// Message is a parsed SIP message, either [*Request] or [*Response].
	Message = sipgo.Message
	// Request is a SIP request.
	Request = sipgo.Request
	// Response is a SIP response.
	Response = sipgo.Response
	// Header is a single SIP header.
	Header = sipgo.Header
	// Uri is a SIP or TEL URI.
	Uri = sipgo.Uri //nolint:revive
	// RequestMethod is a SIP request method.
	RequestMethod = sipgo.RequestMethod
)

// TransportProto is a SIP transport protocol name.
type TransportProto = types.TransportProto

// Transport protocols.
const (
	TransportUDP TransportProto = "UDP"
	TransportTCP TransportProto = "TCP"
	TransportTLS TransportProto = "TLS"
)

// Transport describes the transport a message was received on or will be sent through.
type Transport struct {
	Proto TransportProto
	// LocalAddr is the address of the local socket.
	LocalAddr netip.AddrPort
	// RemoteAddr is the peer address, stamped on receive.
	RemoteAddr netip.AddrPort
	// ListenAddr is the address the local socket was bound to.
	// It differs from LocalAddr when the socket listens on an unspecified address.
	ListenAddr netip.AddrPort
}

func (tp Transport) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("proto", tp.Proto),
		slog.Any("local_addr", tp.LocalAddr),
		slog.Any("remote_addr", tp.RemoteAddr),
	)
}

// InboundRequest is a request received from the network with its transport.
// It also carries the To-tag candidate computed by [Preprocess].
type InboundRequest struct {
	req   *Request
	tp    Transport
	toTag string
}

// NewInboundRequest wraps a received request.
func NewInboundRequest(req *Request, tp Transport) *InboundRequest {
	return &InboundRequest{req: req, tp: tp}
}

// Request returns the wrapped request.
func (r *InboundRequest) Request() *Request {
	if r == nil {
		return nil
	}
	return r.req
}

// Transport returns the transport the request was received on.
func (r *InboundRequest) Transport() Transport {
	if r == nil {
		return Transport{}
	}
	return r.tp
}

// ToTagCandidate returns the To-tag to use in responses to this request.
// It is empty until the request passes through [Preprocess].
func (r *InboundRequest) ToTagCandidate() string {
	if r == nil {
		return ""
	}
	return r.toTag
}

func (r *InboundRequest) Method() RequestMethod {
	if r == nil || r.req == nil {
		return ""
	}
	return r.req.Method
}

// Clone returns a deep copy of the request.
func (r *InboundRequest) Clone() *InboundRequest {
	if r == nil {
		return nil
	}
	r2 := *r
	if r.req != nil {
		r2.req = r.req.Clone()
	}
	return &r2
}

func (r *InboundRequest) LogValue() slog.Value {
	if r == nil || r.req == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("method", string(r.req.Method)),
		slog.String("recipient", r.req.Recipient.String()),
		slog.Any("transport", r.tp),
	)
}

// InboundResponse is a response received from the network with its transport.
type InboundResponse struct {
	res *Response
	tp  Transport
}

// NewInboundResponse wraps a received response.
func NewInboundResponse(res *Response, tp Transport) *InboundResponse {
	return &InboundResponse{res: res, tp: tp}
}

// Response returns the wrapped response.
func (r *InboundResponse) Response() *Response {
	if r == nil {
		return nil
	}
	return r.res
}

// Transport returns the transport the response was received on.
func (r *InboundResponse) Transport() Transport {
	if r == nil {
		return Transport{}
	}
	return r.tp
}

func (r *InboundResponse) LogValue() slog.Value {
	if r == nil || r.res == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Int("status", int(r.res.StatusCode)),
		slog.String("reason", r.res.Reason),
		slog.Any("transport", r.tp),
	)
}
