package sip

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipcore/header"
	"github.com/ghettovoice/sipcore/internal/util"
	"github.com/ghettovoice/sipcore/uri"
)

// IncomingRequest is a request received from the transport.
type IncomingRequest struct {
	message
	Method string
	RURI   *uri.URI

	eng      *Engine
	srvTx    serverTransact
	localTag string
}

// LocalTag returns the To tag used in replies to the request.
// It is generated on first use and then reused.
func (r *IncomingRequest) LocalTag() string {
	if r.localTag == "" {
		r.localTag = newTag()
	}
	return r.localTag
}

// Transaction returns the server transaction of the request, if any.
func (r *IncomingRequest) Transaction() (Transaction, bool) {
	if r.srvTx == nil {
		return nil, false
	}
	return r.srvTx, true
}

// Reply sends a response to the request through its server transaction.
// Empty reason means the default reason phrase of the code.
// Extra headers are "Name: value" lines.
func (r *IncomingRequest) Reply(ctx context.Context, code int, reason string, extra []string, body []byte) error {
	if err := validateStatus(code, reason); err != nil {
		return errtrace.Wrap(err)
	}
	if r.eng == nil {
		return errtrace.Wrap(NewInvalidArgumentError("request is not bound to an engine"))
	}

	var err error
	if doErr := r.eng.do(ctx, func(ctx context.Context) {
		if r.srvTx == nil {
			err = fmt.Errorf("%w: no server transaction for %s", ErrActionNotAllowed, r.Method)
			return
		}
		err = r.srvTx.respond(ctx, code, r.buildResponse(code, reason, extra, body))
	}); doErr != nil {
		return errtrace.Wrap(doErr)
	}
	return errtrace.Wrap(err)
}

// ReplySL sends a stateless response to the request.
func (r *IncomingRequest) ReplySL(ctx context.Context, code int, reason string) error {
	if err := validateStatus(code, reason); err != nil {
		return errtrace.Wrap(err)
	}
	if r.eng == nil {
		return errtrace.Wrap(NewInvalidArgumentError("request is not bound to an engine"))
	}

	var err error
	if doErr := r.eng.do(ctx, func(ctx context.Context) {
		if !r.eng.sendRaw(ctx, r.buildResponseSL(code, reason)) {
			err = ErrTransportFailure
		}
	}); doErr != nil {
		return errtrace.Wrap(doErr)
	}
	return errtrace.Wrap(err)
}

func validateStatus(code int, reason string) error {
	if code < 100 || code > 699 {
		return errtrace.Wrap(NewInvalidArgumentError("invalid status code %d", code))
	}
	if strings.ContainsAny(reason, "\r\n") {
		return errtrace.Wrap(NewInvalidArgumentError("invalid reason phrase %q", reason))
	}
	return nil
}

func (r *IncomingRequest) writeStatusLine(sb *strings.Builder, code int, reason string) {
	sb.WriteString(ProtoVersion)
	sb.WriteByte(' ')
	sb.WriteString(strconv.Itoa(code))
	sb.WriteByte(' ')
	sb.WriteString(cmp.Or(reason, ReasonPhrase(code)))
	sb.WriteString("\r\n")
}

func (r *IncomingRequest) writeTo(sb *strings.Builder, code int) {
	for _, v := range r.hdrs.Values(header.NameVia) {
		sb.WriteString("Via: " + v + "\r\n")
	}

	to := r.hdrs.First(header.NameTo)
	if code > 100 && r.toTag == "" {
		to += ";tag=" + r.LocalTag()
	}
	sb.WriteString("To: " + to + "\r\n")
	sb.WriteString("From: " + r.hdrs.First(header.NameFrom) + "\r\n")
	sb.WriteString("Call-ID: " + r.callID + "\r\n")
	sb.WriteString("CSeq: " + r.cseq.String() + "\r\n")
}

// buildResponse renders a response to the request.
func (r *IncomingRequest) buildResponse(code int, reason string, extra []string, body []byte) string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	r.writeStatusLine(sb, code, reason)

	if r.Method == RequestMethodInvite && code > 100 && code <= 200 {
		for _, v := range r.hdrs.Values(header.NameRecordRoute) {
			sb.WriteString("Record-Route: " + v + "\r\n")
		}
	}
	r.writeTo(sb, code)

	hasCT := false
	for _, h := range extra {
		sb.WriteString(strings.TrimSpace(h) + "\r\n")
		if name, _, ok := strings.Cut(h, ":"); ok && header.CanonicName(strings.TrimSpace(name)) == header.NameContentType {
			hasCT = true
		}
	}

	sessTimers := r.eng != nil && r.eng.opts.SessionTimers
	var supported []string
	switch r.Method {
	case RequestMethodInvite:
		if sessTimers {
			supported = append(supported, "timer")
		}
		supported = append(supported, "ice", "replaces")
	case RequestMethodUpdate:
		if sessTimers {
			supported = append(supported, "timer")
		}
		if len(body) > 0 {
			supported = append(supported, "ice")
		}
		supported = append(supported, "replaces")
	}
	supported = append(supported, "outbound")

	switch {
	case r.Method == RequestMethodOptions:
		sb.WriteString("Allow: " + strings.Join(AllowedMethods, ",") + "\r\n")
		sb.WriteString("Accept: " + strings.Join(AcceptedBodyTypes, ",") + "\r\n")
	case code == 405:
		sb.WriteString("Allow: " + strings.Join(AllowedMethods, ",") + "\r\n")
	case code == 415:
		sb.WriteString("Accept: " + strings.Join(AcceptedBodyTypes, ",") + "\r\n")
	}
	sb.WriteString("Supported: " + strings.Join(supported, ",") + "\r\n")

	if len(body) > 0 && !hasCT {
		sb.WriteString("Content-Type: application/sdp\r\n")
	}
	sb.WriteString("Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n")
	sb.Write(body)
	return sb.String()
}

// buildResponseSL renders a minimal response sent outside of any transaction.
func (r *IncomingRequest) buildResponseSL(code int, reason string) string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	r.writeStatusLine(sb, code, reason)
	r.writeTo(sb, code)
	sb.WriteString("Content-Length: 0\r\n\r\n")
	return sb.String()
}

// String renders the request from its header store.
func (r *IncomingRequest) String() string {
	if r == nil {
		return "<nil>"
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	sb.WriteString(r.Method + " " + r.RURI.String() + " " + ProtoVersion + "\r\n")
	r.hdrs.writeTo(sb, nil)
	sb.WriteString("\r\n")
	sb.Write(r.body)
	return sb.String()
}

// LogValue implements [slog.LogValuer].
func (r *IncomingRequest) LogValue() slog.Value {
	if r == nil {
		return slog.Value{}
	}
	attrs := append([]slog.Attr{
		slog.String("method", r.Method),
		slog.Any("ruri", r.RURI),
	}, r.logAttrs()...)
	return slog.GroupValue(attrs...)
}

// RequestParams are the dialog identifiers of a new request.
// Empty values are filled with defaults: To is the Request-URI, tags and Call-ID are random,
// CSeq is a random number below 10000.
type RequestParams struct {
	ToURI           *uri.URI
	ToDisplayName   string
	ToTag           string
	FromURI         *uri.URI
	FromDisplayName string
	FromTag         string
	CallID          string
	CSeq            uint32
	// RouteSet holds Route header values in the order they are sent.
	RouteSet []string
	// SessionTimers adds the timer option tag to Supported.
	SessionTimers bool
	// UserAgent is sent in the User-Agent header when not empty.
	UserAgent string
}

// OutgoingRequest is a request built locally.
// Via is set by the client transaction, Content-Length is computed on rendering.
type OutgoingRequest struct {
	message
	Method string
	RURI   *uri.URI
}

// NewOutgoingRequest builds a request.
// Extra headers are "Name: value" lines inserted after Route.
func NewOutgoingRequest(method string, ruri *uri.URI, params *RequestParams, extra []string, body []byte) (*OutgoingRequest, error) {
	method = util.UCase(method)
	if !header.IsToken(method) {
		return nil, errtrace.Wrap(NewInvalidArgumentError("invalid method %q", method))
	}
	if ruri == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("missing Request-URI"))
	}
	if params == nil || params.FromURI == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("missing From URI"))
	}

	r := &OutgoingRequest{Method: method, RURI: ruri.Clone()}
	r.body = body

	to := &header.NameAddr{DisplayName: params.ToDisplayName, URI: cmp.Or(params.ToURI, ruri).Clone()}
	if params.ToTag != "" {
		to.Params.Set("tag", params.ToTag)
	}
	from := &header.NameAddr{DisplayName: params.FromDisplayName, URI: params.FromURI.Clone()}
	from.Params.Set("tag", cmp.Or(params.FromTag, newTag()))

	cseq := params.CSeq
	if cseq == 0 {
		cseq = uint32(util.RandInt(1, 10000)) //nolint:gosec
	}
	r.hdrs.addParsed(header.NameTo, to.String(), to)
	r.hdrs.addParsed(header.NameFrom, from.String(), from)
	callID := cmp.Or(params.CallID, newCallID())
	r.hdrs.addParsed(header.NameCallID, callID, callID)
	cs := header.CSeq{Seq: cseq, Method: method}
	r.hdrs.addParsed(header.NameCSeq, cs.String(), cs)
	r.hdrs.Add(header.NameMaxForwards, strconv.Itoa(MaxForwards))
	for _, rt := range params.RouteSet {
		r.hdrs.Add(header.NameRoute, rt)
	}
	if err := addExtraHeaders(&r.hdrs, extra); err != nil {
		return nil, errtrace.Wrap(err)
	}

	r.hdrs.Add(header.NameAllow, strings.Join(AllowedMethods, ","))
	var supported []string
	switch method {
	case RequestMethodRegister:
		supported = append(supported, "path", "gruu")
	case RequestMethodInvite:
		if params.SessionTimers {
			supported = append(supported, "timer")
		}
		supported = append(supported, "ice", "replaces")
	case RequestMethodUpdate:
		if params.SessionTimers {
			supported = append(supported, "timer")
		}
		supported = append(supported, "ice")
	}
	supported = append(supported, "outbound")
	r.hdrs.Add(header.NameSupported, strings.Join(supported, ","))
	if params.UserAgent != "" {
		r.hdrs.Add(header.NameUserAgent, params.UserAgent)
	}

	r.fromTag = from.Tag()
	r.toTag = to.Tag()
	r.callID = callID
	r.cseq = cs
	return r, nil
}

func addExtraHeaders(hdrs *Headers, extra []string) error {
	for _, h := range extra {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || !header.IsToken(name) {
			return errtrace.Wrap(NewInvalidArgumentError("malformed extra header %q", h))
		}
		name = header.CanonicName(name)
		if name == header.NameVia || name == header.NameContentLength {
			return errtrace.Wrap(NewInvalidArgumentError("header %q is managed by the engine", name))
		}
		hdrs.Add(name, value)
	}
	return nil
}

// Clone returns a copy of the request without parsed values.
func (r *OutgoingRequest) Clone() *OutgoingRequest {
	r2 := &OutgoingRequest{Method: r.Method, RURI: r.RURI.Clone()}
	r2.hdrs = *r.hdrs.Clone()
	r2.body = r.body
	r2.callID = r.callID
	r2.cseq = r.cseq
	r2.fromTag = r.fromTag
	r2.toTag = r.toTag
	r2.viaBranch = r.viaBranch
	return r2
}

// SetHeader replaces all occurrences of the header.
// From, To, Call-ID and CSeq values are validated.
func (r *OutgoingRequest) SetHeader(name string, values ...string) error {
	name = header.CanonicName(name)
	switch name {
	case header.NameVia, header.NameContentLength:
		return errtrace.Wrap(NewInvalidArgumentError("header %q is managed by the engine", name))
	case header.NameFrom, header.NameTo, header.NameCallID, header.NameCSeq:
		if len(values) != 1 {
			return errtrace.Wrap(NewInvalidArgumentError("header %q requires exactly one value", name))
		}
		if _, err := header.Parse(name, values[0]); err != nil {
			return errtrace.Wrap(NewInvalidArgumentError(err))
		}
		r.hdrs.Set(name, values...)
		return errtrace.Wrap(r.deriveIDs())
	}
	r.hdrs.Set(name, values...)
	return nil
}

// SetCSeq sets the CSeq number keeping the method.
func (r *OutgoingRequest) SetCSeq(seq uint32) {
	r.cseq = header.CSeq{Seq: seq, Method: r.Method}
	r.hdrs.setParsed(header.NameCSeq, r.cseq.String(), r.cseq)
}

// setVia sets the single Via header of the request.
func (r *OutgoingRequest) setVia(via *header.Via) {
	r.hdrs.setParsed(header.NameVia, via.String(), via)
	r.viaBranch = via.Branch()
}

// String renders the request: the request line, Via, the other headers in
// insertion order, Content-Length and the body.
func (r *OutgoingRequest) String() string {
	if r == nil {
		return "<nil>"
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	sb.WriteString(r.Method + " " + r.RURI.String() + " " + ProtoVersion + "\r\n")
	r.hdrs.writeName(sb, header.NameVia)
	r.hdrs.writeTo(sb, func(name string) bool {
		return name == header.NameVia || name == header.NameContentLength
	})
	sb.WriteString("Content-Length: " + strconv.Itoa(len(r.body)) + "\r\n\r\n")
	sb.Write(r.body)
	return sb.String()
}

// LogValue implements [slog.LogValuer].
func (r *OutgoingRequest) LogValue() slog.Value {
	if r == nil {
		return slog.Value{}
	}
	attrs := append([]slog.Attr{
		slog.String("method", r.Method),
		slog.Any("ruri", r.RURI),
	}, r.logAttrs()...)
	return slog.GroupValue(attrs...)
}
