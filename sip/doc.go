// Package sip implements the signaling edge of a SIP (RFC 3261) stack.
//
// It contains two loosely coupled parts. The first is the stateless UAS
// side: [Preprocess] prepares an inbound request for routing (Via
// received/rport, To-tag candidate, strict-router recovery, maddr rewrite)
// and [BuildResponse] turns a request, a status code and a set of
// [ResponseOption] values into a complete response.
//
// The second is the [UDPTransport] engine. It owns a UDP socket, separates
// STUN packets from SIP messages, keeps per-peer pseudo-connections with
// timeout and keepalive timers and runs STUN binding exchanges with
// retransmission to keep NAT bindings open. Parsed messages are handed to
// a [Router].
//
// SIP messages are represented by the types of [github.com/emiago/sipgo/sip].
//
//go:generate errtrace -w .
package sip
