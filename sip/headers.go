package sip

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"strings"

	"braces.dev/errtrace"
	sipgo "github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipedge/internal/util"
)

// Header names used by the builder and the preprocessor.
const (
	hdrAccept       = "Accept"
	hdrAllow        = "Allow"
	hdrContact      = "Contact"
	hdrContentType  = "Content-Type"
	hdrContentLen   = "Content-Length"
	hdrDate         = "Date"
	hdrEvent        = "Event"
	hdrExpires      = "Expires"
	hdrPath         = "Path"
	hdrReason       = "Reason"
	hdrRecordRoute  = "Record-Route"
	hdrRequire      = "Require"
	hdrRoute        = "Route"
	hdrServiceRoute = "Service-Route"
	hdrSupported    = "Supported"
	hdrTimestamp    = "Timestamp"
	hdrTo           = "To"
	hdrVia          = "Via"
)

// nameAddr is a single entry of a name-addr list header, e.g. Route or Contact.
type nameAddr struct {
	// raw is the trimmed textual entry used to render it back.
	raw string
	uri Uri
}

func (na nameAddr) secure() bool { return util.EqFold(na.uri.Scheme, "sips") }

// parseNameAddr parses a single name-addr or addr-spec entry.
// The URI must have a sip, sips or tel scheme.
func parseNameAddr(s string) (nameAddr, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nameAddr{}, errtrace.Wrap(NewInvalidArgumentError("empty address"))
	}

	var uriStr string
	if i := strings.IndexByte(s, '<'); i >= 0 {
		j := strings.IndexByte(s[i:], '>')
		if j < 0 {
			return nameAddr{}, errtrace.Wrap(NewInvalidArgumentError("unclosed angle bracket in %q", s))
		}
		uriStr = s[i+1 : i+j]
	} else {
		// addr-spec form, parameters after ';' belong to the header
		uriStr, _, _ = strings.Cut(s, ";")
		uriStr = strings.TrimSpace(uriStr)
	}

	var uri Uri
	if err := sipgo.ParseUri(uriStr, &uri); err != nil {
		return nameAddr{}, errtrace.Wrap(NewInvalidArgumentError(err))
	}
	switch util.LCase(uri.Scheme) {
	case "sip", "sips":
		if uri.Host == "" {
			return nameAddr{}, errtrace.Wrap(NewInvalidArgumentError("missing host in %q", uriStr))
		}
	case "tel":
	default:
		return nameAddr{}, errtrace.Wrap(NewInvalidArgumentError("unsupported URI scheme in %q", uriStr))
	}
	return nameAddr{raw: s, uri: uri}, nil
}

// parseNameAddrList parses a comma separated list of name-addr entries.
// An empty list is an error.
func parseNameAddrList(s string) ([]nameAddr, error) {
	parts := util.SplitList(s, ',')
	if len(parts) == 0 {
		return nil, errtrace.Wrap(NewInvalidArgumentError("empty address list"))
	}
	entries := make([]nameAddr, 0, len(parts))
	for _, p := range parts {
		na, err := parseNameAddr(p)
		if err != nil {
			return nil, errtrace.Wrap(err)
		}
		entries = append(entries, na)
	}
	return entries, nil
}

// headerNameAddrs collects name-addr entries of all headers with the given name in order.
// Unparsable entries are skipped.
func headerNameAddrs(hdrs []Header) []nameAddr {
	var entries []nameAddr
	for _, h := range hdrs {
		for _, p := range util.SplitList(h.Value(), ',') {
			if na, err := parseNameAddr(p); err == nil {
				entries = append(entries, na)
			}
		}
	}
	return entries
}

// parseTokenList parses a comma separated list of tokens, e.g. Require value.
func parseTokenList(s string) ([]string, error) {
	parts := util.SplitList(s, ',')
	for _, p := range parts {
		if !util.IsToken(p) {
			return nil, errtrace.Wrap(NewInvalidArgumentError("invalid token %q", p))
		}
	}
	return parts, nil
}

// headerTokens collects tokens of all headers with the given name.
// Invalid tokens are skipped.
func headerTokens(hdrs []Header) []string {
	var toks []string
	for _, h := range hdrs {
		for _, p := range util.SplitList(h.Value(), ',') {
			if util.IsToken(p) {
				toks = append(toks, p)
			}
		}
	}
	return toks
}

func hasToken(toks []string, tok string) bool {
	for _, t := range toks {
		if util.EqFold(t, tok) {
			return true
		}
	}
	return false
}

func viaBranch(req *Request) string {
	via := req.Via()
	if via == nil {
		return ""
	}
	branch, _ := via.Params.Get("branch")
	return branch
}

func toTag(req *Request) string {
	to := req.To()
	if to == nil {
		return ""
	}
	tag, _ := to.Params.Get("tag")
	return tag
}

// stableToTag derives the To-tag of responses generated on behalf of the stack.
// The same stack id and branch always give the same tag.
func stableToTag(stackID, branch string) string {
	key := make([]byte, 0, len(stackID)+len(branch)+1)
	key = append(key, stackID...)
	key = append(key, '|')
	key = append(key, branch...)
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:8])
}

func cloneParams(p sipgo.HeaderParams) sipgo.HeaderParams {
	if p == nil {
		return sipgo.NewParams()
	}
	return maps.Clone(p)
}

func removeRequestHeaders(req *Request, name string) {
	for _, h := range req.GetHeaders(name) {
		req.RemoveHeader(h.Name())
	}
}
