package sip

import (
	"net"
	"net/netip"

	"braces.dev/errtrace"
	"github.com/pion/stun"
)

type stunTxID = [stun.TransactionIDSize]byte

type stunKind uint8

const (
	stunOther stunKind = iota
	stunBindingRequest
	stunBindingSuccess
)

type stunPacket struct {
	kind stunKind
	txID stunTxID
	// mapped is the reflexive address of a binding success.
	mapped netip.AddrPort
}

// isSTUN reports whether the datagram looks like a STUN message:
// two leading zero bits and a valid STUN header with the magic cookie.
func isSTUN(data []byte) bool {
	return len(data) > 0 && data[0]&0xC0 == 0 && stun.IsMessage(data)
}

func decodeSTUN(data []byte) (*stunPacket, error) {
	m := new(stun.Message)
	if err := stun.Decode(data, m); err != nil {
		return nil, errtrace.Wrap(err)
	}

	pkt := &stunPacket{txID: m.TransactionID}
	switch m.Type {
	case stun.BindingRequest:
		pkt.kind = stunBindingRequest
	case stun.BindingSuccess:
		pkt.kind = stunBindingSuccess

		var xorAddr stun.XORMappedAddress
		if err := xorAddr.GetFrom(m); err == nil {
			pkt.mapped = netAddrPort(xorAddr.IP, xorAddr.Port)
			break
		}
		var addr stun.MappedAddress
		if err := addr.GetFrom(m); err != nil {
			return nil, errtrace.Wrap(err)
		}
		pkt.mapped = netAddrPort(addr.IP, addr.Port)
	}
	return pkt, nil
}

// encodeBindingRequest builds a binding request with a new transaction id.
func encodeBindingRequest() (stunTxID, []byte, error) {
	m, err := stun.Build(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)
	if err != nil {
		return stunTxID{}, nil, errtrace.Wrap(err)
	}
	return m.TransactionID, m.Raw, nil
}

// encodeBindingResponse builds a binding success response reflecting the observed address.
func encodeBindingResponse(txID stunTxID, observed netip.AddrPort) ([]byte, error) {
	m, err := stun.Build(
		stun.NewTransactionIDSetter(txID),
		stun.BindingSuccess,
		&stun.XORMappedAddress{
			IP:   observed.Addr().Unmap().AsSlice(),
			Port: int(observed.Port()),
		},
		stun.Fingerprint,
	)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return m.Raw, nil
}

func netAddrPort(ip net.IP, port int) netip.AddrPort {
	addr, _ := netip.AddrFromSlice(ip)
	return netip.AddrPortFrom(addr.Unmap(), uint16(port)) //nolint:gosec
}
