package sip

import (
	"context"
	"log/slog"
	"strconv"

	sipgo "github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipedge/internal/util"
	"github.com/ghettovoice/sipedge/log"
)

// RecordRouteMarker is the URI parameter the stack puts into its own Record-Route entries.
// A Request-URI carrying it was rewritten by a strict router.
const RecordRouteMarker = "sipedge-rr"

// PreprocessOptions are the options of [Preprocess].
type PreprocessOptions struct {
	// LocalAddrs answers whether a URI host belongs to the stack.
	// If nil, no host is considered local, so Request-URI rewrites are skipped.
	LocalAddrs LocalAddrs
	// Log is used to log the rewrites.
	// If nil, [log.Default] is used.
	Log *slog.Logger
}

func (o *PreprocessOptions) isLocal(host string) bool {
	if o == nil || o.LocalAddrs == nil {
		return false
	}
	return o.LocalAddrs.IsLocal(host)
}

func (o *PreprocessOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// Preprocess prepares an inbound request for routing.
//
// It returns a copy of the request with the top Via "received" and "rport"
// parameters stamped from the transport, the To-tag candidate attached and
// the Request-URI rewritten after strict routers and local maddr.
// The second result is true when the request is an ACK to a response
// the stack generated statelessly. Such a request must be absorbed silently.
// The input request is never modified.
func Preprocess(in *InboundRequest, stackID string, opts *PreprocessOptions) (*InboundRequest, bool) {
	if in == nil || in.req == nil {
		return in, false
	}

	out := in.Clone()
	req, tp := out.req, out.tp

	if via := req.Via(); via != nil {
		via.Params = cloneParams(via.Params)
		if tp.RemoteAddr.IsValid() {
			via.Params.Add("received", tp.RemoteAddr.Addr().String())
			if !tp.Proto.Equal(TransportUDP) || via.Params.Has("rport") {
				via.Params.Add("rport", strconv.Itoa(int(tp.RemoteAddr.Port())))
			}
		}
	}

	stableTag := stableToTag(stackID, viaBranch(req))
	tag := toTag(req)
	if req.Method == sipgo.ACK && tag != "" && tag == stableTag {
		return out, true
	}

	if tag == "" {
		tag = stableTag
	}
	out.toTag = tag

	ctx := context.Background()
	if recoverStrictRoute(req, opts) {
		opts.log().LogAttrs(ctx, slog.LevelDebug, "request URI recovered from route set",
			slog.String("recipient", req.Recipient.String()),
		)
	}
	if rewriteLocalMaddr(req, tp, opts) {
		opts.log().LogAttrs(ctx, slog.LevelDebug, "local maddr stripped from request URI",
			slog.String("recipient", req.Recipient.String()),
		)
	}
	return out, false
}

func recoverStrictRoute(req *Request, opts *PreprocessOptions) bool {
	if !req.Recipient.UriParams.Has(RecordRouteMarker) || !opts.isLocal(req.Recipient.Host) {
		return false
	}

	routes := headerNameAddrs(req.GetHeaders(hdrRoute))
	if len(routes) == 0 {
		return false
	}

	last := routes[len(routes)-1]
	req.Recipient = last.uri
	removeRequestHeaders(req, hdrRoute)
	for _, r := range routes[:len(routes)-1] {
		req.AppendHeader(sipgo.NewHeader(hdrRoute, r.raw))
	}
	return true
}

func rewriteLocalMaddr(req *Request, tp Transport, opts *PreprocessOptions) bool {
	uri := &req.Recipient
	maddr, ok := uri.UriParams.Get("maddr")
	if !ok || !opts.isLocal(maddr) {
		return false
	}

	proto := TransportUDP
	if util.EqFold(uri.Scheme, "sips") {
		proto = TransportTLS
	}
	if v, ok := uri.UriParams.Get("transport"); ok {
		proto = TransportProto(v)
	}
	if !proto.Equal(tp.Proto) {
		return false
	}

	port := uint16(uri.Port) //nolint:gosec
	if port == 0 {
		port = proto.DefaultPort()
	}
	if port != tp.LocalAddr.Port() {
		return false
	}

	uri.UriParams = cloneParams(uri.UriParams)
	delete(uri.UriParams, "maddr")
	delete(uri.UriParams, "transport")
	uri.Port = 0
	return true
}
