package sip

import (
	"strings"

	"braces.dev/errtrace"
	sipgo "github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipedge/internal/util"
)

type opKind uint8

// Header operations produced by response options.
const (
	// opAdd appends the header after headers already queued.
	opAdd opKind = iota
	// opReplace removes queued headers with the same name, then appends the header.
	opReplace
	// opInsert puts the header before all queued headers.
	opInsert
	// opUpdate changes the build state.
	opUpdate
	// opIgnore does nothing.
	opIgnore
	// opMoveToLast puts the option back to the tail of the pending queue.
	opMoveToLast
)

type headerOp struct {
	kind   opKind
	hdr    Header
	update func(st *buildState) error
}

// ResponseOption configures a response built by [BuildResponse] or [MakeResponse].
// Options are applied in order, later options override earlier ones.
type ResponseOption interface {
	headerOp(st *buildState) headerOp
}

type optionFunc func(st *buildState) headerOp

func (f optionFunc) headerOp(st *buildState) headerOp { return f(st) }

func update(fn func(st *buildState) error) headerOp {
	return headerOp{kind: opUpdate, update: fn}
}

// WithHeader appends the header to the response.
func WithHeader(h Header) ResponseOption {
	return optionFunc(func(*buildState) headerOp {
		if h == nil {
			return headerOp{kind: opIgnore}
		}
		return headerOp{kind: opAdd, hdr: h}
	})
}

// WithReplaceHeader sets the header replacing all headers of the same name.
func WithReplaceHeader(h Header) ResponseOption {
	return optionFunc(func(*buildState) headerOp {
		if h == nil {
			return headerOp{kind: opIgnore}
		}
		return headerOp{kind: opReplace, hdr: h}
	})
}

// WithInsertHeader puts the header before all other optional headers.
func WithInsertHeader(h Header) ResponseOption {
	return optionFunc(func(*buildState) headerOp {
		if h == nil {
			return headerOp{kind: opIgnore}
		}
		return headerOp{kind: opInsert, hdr: h}
	})
}

// WithContact sets the Contact header.
// [ErrInvalidContact] is returned from the build when the value is not a valid name-addr.
func WithContact(v string) ResponseOption {
	return optionFunc(func(*buildState) headerOp {
		return update(func(st *buildState) error {
			na, err := parseNameAddr(v)
			if err != nil {
				return errtrace.Wrap(wrapError(ErrInvalidContact, err))
			}
			st.replace(sipgo.NewHeader(hdrContact, na.raw))
			return nil
		})
	})
}

// WithMakeContact asks the sender to generate the Contact header of the response.
// See [SendOpts.Contact].
func WithMakeContact() ResponseOption {
	return optionFunc(func(*buildState) headerOp {
		return update(func(st *buildState) error {
			st.makeContact = true
			return nil
		})
	})
}

// WithContentType sets the Content-Type of the body.
// [ErrInvalidContentType] is returned from the build when the value is not a valid media type.
func WithContentType(v string) ResponseOption {
	return optionFunc(func(*buildState) headerOp {
		return update(func(st *buildState) error {
			if !isMediaType(v) {
				return errtrace.Wrap(wrapError(ErrInvalidContentType, "invalid media type %q", v))
			}
			st.contentType = strings.TrimSpace(v)
			return nil
		})
	})
}

type requireOption string

func (o requireOption) headerOp(*buildState) headerOp {
	return update(func(st *buildState) error {
		toks, err := parseTokenList(string(o))
		if err != nil {
			return errtrace.Wrap(wrapError(ErrInvalidRequire, err))
		}
		st.require = toks
		return nil
	})
}

// WithRequire sets the comma separated option tags of the Require header.
// [ErrInvalidRequire] is returned from the build when a tag is not a token.
func WithRequire(v string) ResponseOption { return requireOption(v) }

// WithDo100rel makes a provisional response to INVITE reliable
// when the request declares 100rel support.
// It waits for all pending [WithRequire] options to be applied first.
func WithDo100rel() ResponseOption {
	return optionFunc(func(st *buildState) headerOp {
		if st.pendingHas(func(o ResponseOption) bool {
			_, ok := o.(requireOption)
			return ok
		}) {
			return headerOp{kind: opMoveToLast}
		}
		return update(func(st *buildState) error {
			if st.reliableProvisional() && hasToken(headerTokens(st.req.GetHeaders(hdrSupported)), "100rel") {
				st.addRequire("100rel")
			}
			return nil
		})
	})
}

// WithReason sets the Reason header, e.g. `SIP ;cause=200 ;text="Call completed elsewhere"`.
// [ErrInvalidReason] is returned from the build when the value is malformed.
func WithReason(v string) ResponseOption {
	return optionFunc(func(*buildState) headerOp {
		return update(func(st *buildState) error {
			if !isReasonValue(v) {
				return errtrace.Wrap(wrapError(ErrInvalidReason, "malformed reason %q", v))
			}
			st.replace(sipgo.NewHeader(hdrReason, strings.TrimSpace(v)))
			return nil
		})
	})
}

// WithServiceRoute sets the Service-Route of a successful REGISTER response.
// It is ignored for other responses.
// [ErrInvalidServiceRoute] is returned from the build when the value is not a valid URI list.
func WithServiceRoute(v string) ResponseOption {
	return optionFunc(func(st *buildState) headerOp {
		if st.req.Method != sipgo.REGISTER || !is2xx(st.code) {
			return headerOp{kind: opIgnore}
		}
		return update(func(st *buildState) error {
			routes, err := parseNameAddrList(v)
			if err != nil {
				return errtrace.Wrap(wrapError(ErrInvalidServiceRoute, err))
			}
			raws := make([]string, len(routes))
			for i, r := range routes {
				raws[i] = r.raw
			}
			st.replace(sipgo.NewHeader(hdrServiceRoute, strings.Join(raws, ", ")))
			return nil
		})
	})
}

// WithToTag forces the To-tag of the response.
func WithToTag(tag string) ResponseOption {
	return optionFunc(func(*buildState) headerOp {
		return update(func(st *buildState) error {
			st.forcedTag = &tag
			return nil
		})
	})
}

// WithReasonPhrase overrides the default reason phrase of the status line.
func WithReasonPhrase(v string) ResponseOption {
	return optionFunc(func(*buildState) headerOp {
		return update(func(st *buildState) error {
			st.reasonPhrase = v
			return nil
		})
	})
}

// WithExpires sets the Expires header in seconds.
// For SUBSCRIBE responses the value is limited by the request Expires.
func WithExpires(sec int) ResponseOption {
	return optionFunc(func(*buildState) headerOp {
		return update(func(st *buildState) error {
			st.expires = &sec
			return nil
		})
	})
}

// WithAllow adds the Allow header built from [AppConfig.Methods].
func WithAllow() ResponseOption {
	return optionFunc(func(st *buildState) headerOp {
		return headerOp{kind: opReplace, hdr: sipgo.NewHeader(hdrAllow, st.app.allow())}
	})
}

// WithSupported adds the Supported header built from [AppConfig.Supported].
func WithSupported() ResponseOption {
	return optionFunc(func(st *buildState) headerOp {
		return headerOp{kind: opReplace, hdr: sipgo.NewHeader(hdrSupported, strings.Join(st.app.supported(), ", "))}
	})
}

// WithAccept adds the Accept header built from [AppConfig.Accept].
func WithAccept() ResponseOption {
	return optionFunc(func(st *buildState) headerOp {
		return headerOp{kind: opReplace, hdr: sipgo.NewHeader(hdrAccept, strings.Join(st.app.accept(), ", "))}
	})
}

// httpDate is RFC 1123 date format with the GMT zone required by RFC 3261.
const httpDate = "Mon, 02 Jan 2006 15:04:05 GMT"

// WithDate adds the Date header with the current time.
func WithDate() ResponseOption {
	return optionFunc(func(st *buildState) headerOp {
		return headerOp{kind: opReplace, hdr: sipgo.NewHeader(hdrDate, st.app.now().UTC().Format(httpDate))}
	})
}

func isMediaType(v string) bool {
	parts := util.SplitList(v, ';')
	if len(parts) == 0 {
		return false
	}
	typ, sub, ok := strings.Cut(parts[0], "/")
	if !ok || !util.IsToken(strings.TrimSpace(typ)) || !util.IsToken(strings.TrimSpace(sub)) {
		return false
	}
	return areGenericParams(parts[1:], true)
}

func isReasonValue(v string) bool {
	reasons := util.SplitList(v, ',')
	if len(reasons) == 0 {
		return false
	}
	for _, r := range reasons {
		parts := util.SplitList(r, ';')
		if len(parts) == 0 || !util.IsToken(parts[0]) || !areGenericParams(parts[1:], false) {
			return false
		}
	}
	return true
}

// areGenericParams checks "name[=value]" parameters, value is a token or a quoted string.
func areGenericParams(params []string, valueRequired bool) bool {
	for _, p := range params {
		name, val, hasVal := strings.Cut(p, "=")
		if !util.IsToken(strings.TrimSpace(name)) {
			return false
		}
		if !hasVal {
			if valueRequired {
				return false
			}
			continue
		}
		val = strings.TrimSpace(val)
		if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
			continue
		}
		if !util.IsToken(val) {
			return false
		}
	}
	return true
}
