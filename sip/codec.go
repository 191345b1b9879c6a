package sip

import (
	"bytes"
	"strconv"
	"strings"

	"braces.dev/errtrace"
	sipgo "github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipedge/internal/util"
)

// Codec parses and renders SIP messages carried in datagrams.
type Codec interface {
	// Parse parses the first message of the datagram.
	//
	// Any implementations must satisfy the following contract:
	// - in success case, it returns the message, bytes following the message and nil error;
	// - if the data is not a valid message, it returns nil message and non-nil error.
	Parse(data []byte) (msg Message, rest []byte, err error)
	// Render renders the message in RFC 3261 form.
	// Equal messages must render to equal bytes.
	Render(msg Message) []byte
}

var defCodec = NewStdCodec()

// DefaultCodec returns the codec used when no codec is configured.
func DefaultCodec() Codec { return defCodec }

// StdCodec implements [Codec] with the sipgo parser.
// It is safe for concurrent use.
type StdCodec struct {
	parser *sipgo.Parser
}

// NewStdCodec creates a new [StdCodec].
func NewStdCodec() *StdCodec {
	return &StdCodec{parser: sipgo.NewParser()}
}

var hdrsEnd = []byte("\r\n\r\n")

// Parse frames the message by the Content-Length header.
// Without Content-Length the body takes the rest of the datagram.
func (c *StdCodec) Parse(data []byte) (Message, []byte, error) {
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return nil, nil, errtrace.Wrap(wrapError(ErrInvalidMessage, "empty message"))
	}

	end := bytes.Index(data, hdrsEnd)
	if end < 0 {
		return nil, nil, errtrace.Wrap(wrapError(ErrInvalidMessage, "missing end of headers"))
	}
	bodyStart := end + len(hdrsEnd)

	clen, ok, err := contentLength(data[:end])
	if err != nil {
		return nil, nil, errtrace.Wrap(err)
	}
	if !ok {
		clen = len(data) - bodyStart
	}
	if bodyStart+clen > len(data) {
		return nil, nil, errtrace.Wrap(wrapError(ErrInvalidMessage,
			"body is shorter than content length %d", clen))
	}

	msg, err := c.parser.ParseSIP(data[:bodyStart+clen])
	if err != nil {
		return nil, nil, errtrace.Wrap(wrapError(ErrInvalidMessage, err))
	}
	return msg, data[bodyStart+clen:], nil
}

func (*StdCodec) Render(msg Message) []byte {
	if msg == nil {
		return nil
	}
	buf := util.GetBytesBuffer()
	defer util.FreeBytesBuffer(buf)
	writeMessage(buf, msg)
	return bytes.Clone(buf.Bytes())
}

func contentLength(hdrs []byte) (int, bool, error) {
	for line := range strings.SplitSeq(string(hdrs), "\r\n") {
		name, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if !util.EqFold(name, hdrContentLen) && !util.EqFold(name, "l") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil || n < 0 {
			return 0, false, errtrace.Wrap(wrapError(ErrInvalidMessage, "invalid content length %q", val))
		}
		return n, true, nil
	}
	return 0, false, nil
}
