package sip

import (
	"bytes"
	"maps"
	"slices"
	"strconv"

	sipgo "github.com/emiago/sipgo/sip"
)

// writeMessage renders msg the way sipgo does, except that header and URI
// parameters are written in key order. sipgo keeps parameters in a map,
// so its own rendering of the same message differs from call to call.
func writeMessage(buf *bytes.Buffer, msg Message) {
	var (
		hdrs []Header
		body []byte
	)
	switch m := msg.(type) {
	case *Request:
		buf.WriteString(string(m.Method))
		buf.WriteByte(' ')
		writeURI(buf, m.Recipient)
		buf.WriteByte(' ')
		buf.WriteString(m.SipVersion)
		hdrs, body = m.Headers(), m.Body()
	case *Response:
		buf.WriteString(m.SipVersion)
		buf.WriteByte(' ')
		buf.WriteString(strconv.Itoa(int(m.StatusCode)))
		buf.WriteByte(' ')
		buf.WriteString(m.Reason)
		hdrs, body = m.Headers(), m.Body()
	default:
		msg.StringWrite(buf)
		return
	}
	buf.WriteString("\r\n")
	for _, h := range hdrs {
		writeHeader(buf, h)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(body)
}

func writeHeader(buf *bytes.Buffer, h Header) {
	switch h := h.(type) {
	case *sipgo.ViaHeader:
		hop := *h
		hop.Params = nil
		buf.WriteString(hop.Name())
		buf.WriteString(": ")
		buf.WriteString(hop.Value())
		writeParams(buf, ';', ';', h.Params)
	case *sipgo.ToHeader:
		writeNameAddr(buf, h.Name(), h.DisplayName, h.Address, h.Params)
	case *sipgo.FromHeader:
		writeNameAddr(buf, h.Name(), h.DisplayName, h.Address, h.Params)
	case *sipgo.ContactHeader:
		writeNameAddr(buf, h.Name(), h.DisplayName, h.Address, h.Params)
	case *sipgo.RouteHeader:
		writeNameAddr(buf, h.Name(), "", h.Address, nil)
	case *sipgo.RecordRouteHeader:
		writeNameAddr(buf, h.Name(), "", h.Address, nil)
	default:
		h.StringWrite(buf)
	}
}

func writeNameAddr(buf *bytes.Buffer, name, display string, addr Uri, params sipgo.HeaderParams) {
	buf.WriteString(name)
	buf.WriteString(": ")
	if display != "" {
		buf.WriteByte('"')
		buf.WriteString(display)
		buf.WriteString("\" ")
	}
	buf.WriteByte('<')
	writeURI(buf, addr)
	buf.WriteByte('>')
	writeParams(buf, ';', ';', params)
}

// writeURI takes the URI by value, clearing the parameter maps of the copy
// leaves the caller's URI untouched.
func writeURI(buf *bytes.Buffer, u Uri) {
	params, hdrs := u.UriParams, u.Headers
	u.UriParams, u.Headers = nil, nil
	buf.WriteString(u.String())
	writeParams(buf, ';', ';', params)
	writeParams(buf, '?', '&', hdrs)
}

func writeParams(buf *bytes.Buffer, lead, sep byte, params sipgo.HeaderParams) {
	if len(params) == 0 {
		return
	}
	for i, k := range slices.Sorted(maps.Keys(params)) {
		if i == 0 {
			buf.WriteByte(lead)
		} else {
			buf.WriteByte(sep)
		}
		buf.WriteString(k)
		if v := params[k]; v != "" {
			buf.WriteByte('=')
			buf.WriteString(v)
		}
	}
}
