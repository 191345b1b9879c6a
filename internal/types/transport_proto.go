package types

import "github.com/ghettovoice/sipedge/internal/util"

// TransportProto is a SIP transport protocol name, e.g. "UDP".
type TransportProto string

func (p TransportProto) ToUpper() TransportProto { return util.UCase(p) }

func (p TransportProto) ToLower() TransportProto { return util.LCase(p) }

func (p TransportProto) IsValid() bool { return util.IsToken(p) }

func (p TransportProto) Equal(val any) bool {
	var other TransportProto
	switch v := val.(type) {
	case TransportProto:
		other = v
	case *TransportProto:
		if v == nil {
			return false
		}
		other = *v
	case string:
		other = TransportProto(v)
	default:
		return false
	}
	return util.EqFold(p, other)
}

// Network returns the Go network name for the protocol.
func (p TransportProto) Network() string {
	switch p.ToUpper() {
	case "UDP", "DTLS":
		return "udp"
	case "TCP", "TLS", "WS", "WSS":
		return "tcp"
	default:
		return ""
	}
}

// Secured reports whether the protocol runs over a secure channel.
func (p TransportProto) Secured() bool {
	switch p.ToUpper() {
	case "TLS", "DTLS", "WSS":
		return true
	default:
		return false
	}
}

// DefaultPort returns the default SIP port for the protocol.
func (p TransportProto) DefaultPort() uint16 {
	if p.Secured() {
		return 5061
	}
	return 5060
}
