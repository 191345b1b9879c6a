package sip

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"braces.dev/errtrace"
	sipgo "github.com/emiago/sipgo/sip"

	"github.com/ghettovoice/sipedge/internal/util"
	"github.com/ghettovoice/sipedge/log"
)

// DefaultEventExpires is the default expiration of event subscriptions in seconds.
const DefaultEventExpires = 60

var (
	defAllow     = []RequestMethod{sipgo.INVITE, sipgo.ACK, sipgo.CANCEL, sipgo.BYE, sipgo.OPTIONS}
	defSupported = []string{"path"}
	defAccept    = []string{"*/*"}
)

// AppConfig describes the application capabilities advertised in responses.
type AppConfig struct {
	// Methods are advertised in the Allow header.
	// If empty, INVITE, ACK, CANCEL, BYE and OPTIONS are used.
	Methods []RequestMethod
	// Supported are option tags advertised in the Supported header.
	// If empty, "path" is used.
	Supported []string
	// Accept are media types advertised in the Accept header.
	// If empty, "*/*" is used.
	Accept []string
	// Registrar adds REGISTER to the Allow header.
	Registrar bool
	// EventExpires is the subscription expiration in seconds
	// used when the request does not limit it.
	// If zero, [DefaultEventExpires] is used.
	EventExpires int
	// Now returns the current time used in the Date header.
	// If nil, [time.Now] is used.
	Now func() time.Time
	// NewTag generates a random To-tag.
	// If nil, a random 16 characters tag is generated.
	NewTag func() string
	// Log is used to log dropped options.
	// If nil, [log.Default] is used.
	Log *slog.Logger
}

func (c *AppConfig) allow() string {
	var methods []RequestMethod
	if c == nil || len(c.Methods) == 0 {
		methods = slices.Clone(defAllow)
	} else {
		methods = slices.Clone(c.Methods)
	}
	if c != nil && c.Registrar && !slices.Contains(methods, sipgo.REGISTER) {
		methods = append(methods, sipgo.REGISTER)
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)
	for i, m := range methods {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(string(m))
	}
	return sb.String()
}

func (c *AppConfig) supported() []string {
	if c == nil || len(c.Supported) == 0 {
		return defSupported
	}
	return c.Supported
}

func (c *AppConfig) accept() []string {
	if c == nil || len(c.Accept) == 0 {
		return defAccept
	}
	return c.Accept
}

func (c *AppConfig) eventExpires() int {
	if c == nil || c.EventExpires == 0 {
		return DefaultEventExpires
	}
	return c.EventExpires
}

func (c *AppConfig) now() time.Time {
	if c == nil || c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *AppConfig) newTag() string {
	if c == nil || c.NewTag == nil {
		return util.RandToken(16)
	}
	return c.NewTag()
}

func (c *AppConfig) log() *slog.Logger {
	if c == nil || c.Log == nil {
		return log.Default()
	}
	return c.Log
}

// SendOpts are hints for the sender of a built response.
type SendOpts struct {
	// Contact asks the sender to add its own Contact header.
	Contact bool
	// Secure asks the sender to use a secure transport.
	Secure bool
	// RSeq asks the sender to add the RSeq header of a reliable provisional response.
	RSeq bool
}

func (o *SendOpts) LogValue() slog.Value {
	if o == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Bool("contact", o.Contact),
		slog.Bool("secure", o.Secure),
		slog.Bool("rseq", o.RSeq),
	)
}

// BuildResponse builds a response to the inbound request.
//
// Headers derived from the request and the application config are applied first,
// then the options, so the options override derived values.
// The body may be []byte, string, [*sdp.SessionDescription] or any gob encodable value.
// On error no response is returned.
func BuildResponse(
	in *InboundRequest,
	code int,
	body any,
	app *AppConfig,
	opts ...ResponseOption,
) (*Response, *SendOpts, error) {
	if in == nil || in.req == nil {
		return nil, nil, errtrace.Wrap(NewInvalidArgumentError("invalid request"))
	}
	if code < 100 || code > 699 {
		return nil, nil, errtrace.Wrap(NewInvalidArgumentError("invalid status code %d", code))
	}

	req := in.req
	st := newBuildState(req, code, app)
	if err := st.apply(append(derivedOptions(req, code), opts...)); err != nil {
		return nil, nil, errtrace.Wrap(err)
	}

	data, ctype, err := encodeBody(body)
	if err != nil {
		return nil, nil, errtrace.Wrap(err)
	}
	if st.contentType != "" {
		ctype = st.contentType
	} else if len(data) == 0 {
		ctype = ""
	}

	if st.reliableProvisional() && hasToken(headerTokens(req.GetHeaders(hdrRequire)), "100rel") {
		st.addRequire("100rel")
	}
	if len(st.require) > 0 {
		st.replace(newRequireHeader(st.require))
	}
	if exp, ok := st.responseExpires(); ok {
		st.replace(sipgo.NewHeader(hdrExpires, strconv.Itoa(exp)))
	}

	tag := st.resolveToTag(in.toTag)
	res, err := st.newResponse(tag)
	if err != nil {
		return nil, nil, errtrace.Wrap(err)
	}
	setBody(res, data, ctype)

	sendOpts := &SendOpts{
		Secure: isSecureRequest(req),
		RSeq:   code >= 101 && code <= 199 && hasToken(st.require, "100rel"),
	}
	switch {
	case st.makeContact:
		sendOpts.Contact = true
	case code > 100 && !st.has(hdrContact):
		switch req.Method {
		case sipgo.INVITE, sipgo.SUBSCRIBE, sipgo.REFER:
			sendOpts.Contact = true
		}
	}
	return res, sendOpts, nil
}

func derivedOptions(req *Request, code int) []ResponseOption {
	var opts []ResponseOption
	if code == 100 {
		for _, h := range req.GetHeaders(hdrTimestamp) {
			opts = append(opts, WithHeader(sipgo.HeaderClone(h)))
		}
	}
	switch req.Method {
	case sipgo.INVITE, sipgo.UPDATE, sipgo.SUBSCRIBE, sipgo.REFER:
		if code > 100 {
			opts = append(opts, WithAllow(), WithSupported())
		}
	}
	switch req.Method {
	case sipgo.INVITE, sipgo.NOTIFY:
		if code >= 101 && code <= 299 {
			for _, h := range req.GetHeaders(hdrRecordRoute) {
				opts = append(opts, WithHeader(sipgo.HeaderClone(h)))
			}
		}
	case sipgo.REGISTER:
		if is2xx(code) {
			for _, h := range req.GetHeaders(hdrPath) {
				opts = append(opts, WithHeader(sipgo.HeaderClone(h)))
			}
		}
	}
	switch req.Method {
	case sipgo.SUBSCRIBE, sipgo.NOTIFY, sipgo.PUBLISH:
		for _, h := range req.GetHeaders(hdrEvent) {
			opts = append(opts, WithHeader(sipgo.HeaderClone(h)))
		}
	}
	return opts
}

func newRequireHeader(tags []string) Header {
	return sipgo.NewHeader(hdrRequire, strings.Join(tags, ", "))
}

func is2xx(code int) bool { return code >= 200 && code <= 299 }

// isSecureRequest reports whether responses to the request must be sent over a secure transport.
func isSecureRequest(req *Request) bool {
	if util.EqFold(req.Recipient.Scheme, "sips") {
		return true
	}
	if routes := headerNameAddrs(req.GetHeaders(hdrRoute)); len(routes) > 0 {
		return routes[0].secure()
	}
	contacts := headerNameAddrs(req.GetHeaders(hdrContact))
	return len(contacts) > 0 && contacts[0].secure()
}

func requestExpires(req *Request) (int, bool) {
	h := req.GetHeader(hdrExpires)
	if h == nil {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(h.Value()))
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func setBody(res *Response, data []byte, ctype string) {
	if ctype != "" {
		res.AppendHeader(sipgo.NewHeader(hdrContentType, ctype))
	}
	res.SetBody(data)
	if res.GetHeader(hdrContentLen) == nil {
		cl := sipgo.ContentLengthHeader(len(data)) //nolint:gosec
		res.AppendHeader(&cl)
	}
}

// buildState is the working state of a single response build.
type buildState struct {
	req  *Request
	code int
	app  *AppConfig
	// hdrs are optional headers in output order
	hdrs []Header
	// pending are options not applied yet
	pending []ResponseOption

	forcedTag    *string
	reasonPhrase string
	contentType  string
	require      []string
	expires      *int
	makeContact  bool
}

func newBuildState(req *Request, code int, app *AppConfig) *buildState {
	return &buildState{req: req, code: code, app: app}
}

// apply runs the options queue.
// Requeues by [opMoveToLast] are limited by the initial queue length,
// after that the requeued option is dropped.
func (st *buildState) apply(queue []ResponseOption) error {
	requeues := len(queue)
	for len(queue) > 0 {
		opt := queue[0]
		queue = queue[1:]
		if opt == nil {
			continue
		}
		st.pending = queue

		op := opt.headerOp(st)
		switch op.kind {
		case opAdd:
			st.hdrs = append(st.hdrs, op.hdr)
		case opReplace:
			st.replace(op.hdr)
		case opInsert:
			st.hdrs = slices.Insert(st.hdrs, 0, op.hdr)
		case opUpdate:
			if err := op.update(st); err != nil {
				return errtrace.Wrap(err)
			}
		case opIgnore:
		case opMoveToLast:
			if requeues == 0 {
				st.app.log().LogAttrs(context.Background(), slog.LevelDebug, "response option dropped after too many requeues",
					slog.Int("status", st.code),
					slog.String("method", string(st.req.Method)),
				)
				continue
			}
			requeues--
			queue = append(queue, opt)
		}
	}
	st.pending = nil
	return nil
}

func (st *buildState) replace(h Header) {
	st.hdrs = slices.DeleteFunc(st.hdrs, func(x Header) bool { return util.EqFold(x.Name(), h.Name()) })
	st.hdrs = append(st.hdrs, h)
}

func (st *buildState) has(name string) bool {
	return slices.ContainsFunc(st.hdrs, func(h Header) bool { return util.EqFold(h.Name(), name) })
}

func (st *buildState) pendingHas(fn func(ResponseOption) bool) bool {
	return slices.ContainsFunc(st.pending, fn)
}

func (st *buildState) reliableProvisional() bool {
	return st.req.Method == sipgo.INVITE && st.code >= 101 && st.code <= 199
}

func (st *buildState) addRequire(tag string) {
	if !hasToken(st.require, tag) {
		st.require = append(st.require, tag)
	}
}

// responseExpires computes the Expires value of the response.
func (st *buildState) responseExpires() (int, bool) {
	if st.req.Method != sipgo.SUBSCRIBE {
		if st.expires == nil {
			return 0, false
		}
		return *st.expires, true
	}

	reqExp, hasReqExp := requestExpires(st.req)
	switch {
	case st.expires != nil && *st.expires >= 0 && is2xx(st.code):
		if hasReqExp {
			return min(*st.expires, reqExp), true
		}
		return *st.expires, true
	case st.expires == nil && is2xx(st.code) && hasReqExp:
		return reqExp, true
	default:
		return st.app.eventExpires(), true
	}
}

// resolveToTag picks the To-tag in priority order:
// forced tag, no tag for 100, request tag, precomputed candidate, random tag.
func (st *buildState) resolveToTag(candidate string) string {
	switch {
	case st.forcedTag != nil:
		return *st.forcedTag
	case st.code < 101:
		return ""
	}
	if tag := toTag(st.req); tag != "" {
		return tag
	}
	if candidate != "" {
		return candidate
	}
	return st.app.newTag()
}

// newResponse creates the response with the mandatory headers copied from the request
// followed by the optional headers.
func (st *buildState) newResponse(tag string) (*Response, error) {
	req := st.req
	via, from, to, callID, cseq := req.Via(), req.From(), req.To(), req.CallID(), req.CSeq()
	if via == nil || from == nil || to == nil || callID == nil || cseq == nil {
		return nil, errtrace.Wrap(wrapError(ErrInvalidMessage, "missing mandatory headers"))
	}

	reason := st.reasonPhrase
	if reason == "" {
		reason = StatusReason(st.code)
	}
	res := sipgo.NewResponse(st.code, reason)

	if st.code == 100 {
		res.AppendHeader(sipgo.HeaderClone(via))
	} else {
		for _, h := range req.GetHeaders(hdrVia) {
			res.AppendHeader(sipgo.HeaderClone(h))
		}
	}
	res.AppendHeader(sipgo.HeaderClone(from))

	resTo := &sipgo.ToHeader{
		DisplayName: to.DisplayName,
		Address:     to.Address,
		Params:      cloneParams(to.Params),
	}
	delete(resTo.Params, "tag")
	if tag != "" {
		resTo.Params.Add("tag", tag)
	}
	res.AppendHeader(resTo)
	res.AppendHeader(sipgo.HeaderClone(callID))
	res.AppendHeader(sipgo.HeaderClone(cseq))

	for _, h := range st.hdrs {
		res.AppendHeader(h)
	}
	return res, nil
}
