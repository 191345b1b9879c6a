package sip

import (
	"braces.dev/errtrace"
)

// MakeResponse builds a minimal response to the request.
//
// The response has only Via, From, To, Call-ID, CSeq and Content-Length headers
// copied from the request, plus the headers produced by the options.
// It is used for responses generated by the stack itself, e.g. on timeouts,
// when capability negotiation and body handling do not matter.
func MakeResponse(req *Request, code int, opts ...ResponseOption) (*Response, error) {
	if req == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid request"))
	}
	if code < 100 || code > 699 {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid status code %d", code))
	}

	st := newBuildState(req, code, nil)
	if err := st.apply(opts); err != nil {
		return nil, errtrace.Wrap(err)
	}
	if len(st.require) > 0 {
		st.replace(newRequireHeader(st.require))
	}

	res, err := st.newResponse(st.resolveToTag(""))
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	setBody(res, nil, st.contentType)
	return res, nil
}
