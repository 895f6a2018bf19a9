package sip

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipcore/digest"
	"github.com/ghettovoice/sipcore/header"
	"github.com/ghettovoice/sipcore/internal/errorutil"
	"github.com/ghettovoice/sipcore/internal/serial"
	"github.com/ghettovoice/sipcore/internal/types"
	"github.com/ghettovoice/sipcore/internal/util"
	"github.com/ghettovoice/sipcore/log"
	"github.com/ghettovoice/sipcore/uri"
)

type (
	// RequestHandler is called with incoming requests that do not belong to a dialog.
	RequestHandler = func(ctx context.Context, req *IncomingRequest)
	// DialogHandler is called when a dialog is created or destroyed.
	DialogHandler = func(ctx context.Context, dlg *Dialog)
)

// EngineOptions are the options of [NewEngine].
type EngineOptions struct {
	// URI is the address of record of the user agent.
	URI         *uri.URI
	DisplayName string
	// ContactURI is sent in the Contact header of dialog creating requests.
	// If nil, it is built from URI user and the via host.
	ContactURI *uri.URI
	// ViaHost is the host of the Via header of outgoing requests.
	// If empty, a random hostname in the .invalid domain is used.
	ViaHost string
	// ViaTransport is the Via transport token, WS by default.
	ViaTransport string
	UserAgent    string
	// CallIDPrefix starts every locally generated Call-ID and is used for loop detection.
	// If empty, a random prefix is generated.
	CallIDPrefix  string
	SessionTimers bool
	Credentials   digest.Credentials
	// AuthorizationJWT is sent as a Bearer Authorization header with every request.
	AuthorizationJWT string
	Timings          TimingConfig
	Logger           *slog.Logger
}

func (o *EngineOptions) viaTransport() string {
	if o == nil || o.ViaTransport == "" {
		return "WS"
	}
	return util.UCase(o.ViaTransport)
}

func (o *EngineOptions) log() *slog.Logger {
	if o == nil || o.Logger == nil {
		return log.Default()
	}
	return o.Logger
}

func (o *EngineOptions) timings() TimingConfig {
	if o == nil {
		return TimingConfig{}
	}
	return o.Timings
}

// Engine is the user agent core. It feeds inbound data to the transaction layer
// and dialogs, keeps credentials and passes requests that open new dialogs up to
// the request handlers.
//
// Every engine event runs under a single executor.
type Engine struct {
	opts  EngineOptions
	exec  *serial.Executor
	layer *TransactionLayer
	stats *StatsRecorder
	log   *slog.Logger

	creds   digest.Credentials
	dialogs map[DialogID]*Dialog
	gen     uint64
	closed  bool

	onReq          types.CallbackManager[RequestHandler]
	onDlgCreated   types.CallbackManager[DialogHandler]
	onDlgDestroyed types.CallbackManager[DialogHandler]
}

// NewEngine creates an engine sending messages through the transport.
func NewEngine(tp Transport, opts *EngineOptions) (*Engine, error) {
	if tp == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil transport"))
	}
	if opts == nil || opts.URI == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("missing user agent URI"))
	}

	e := &Engine{
		opts:    *opts,
		exec:    &serial.Executor{Logger: opts.log()},
		stats:   new(StatsRecorder),
		log:     opts.log(),
		creds:   opts.Credentials,
		dialogs: make(map[DialogID]*Dialog),
	}
	e.opts.URI = opts.URI.Clone()
	if e.opts.ViaHost == "" {
		e.opts.ViaHost = util.RandString(12) + ".invalid"
	}
	e.opts.ViaTransport = opts.viaTransport()
	if e.opts.CallIDPrefix == "" {
		e.opts.CallIDPrefix = util.RandString(5)
	}
	if e.opts.UserAgent == "" {
		e.opts.UserAgent = DefaultUserAgent
	}
	if e.opts.ContactURI == nil {
		e.opts.ContactURI = &uri.URI{
			Scheme: "sip",
			User:   cmp.Or(opts.URI.User, util.RandString(8)),
			Host:   e.opts.ViaHost,
		}
		e.opts.ContactURI.Params.Set("transport", util.LCase(e.opts.ViaTransport))
	} else {
		e.opts.ContactURI = opts.ContactURI.Clone()
	}
	if e.creds.Username == "" {
		e.creds.Username = opts.URI.User
	}

	e.layer = newTransactionLayer(e.exec, tp, transactionLayerOptions{
		timings:      opts.timings(),
		viaHost:      e.opts.ViaHost,
		viaTransport: e.opts.ViaTransport,
		log:          e.log,
		stats:        e.stats,
	})
	return e, nil
}

// Options returns the effective engine options.
func (e *Engine) Options() EngineOptions { return e.opts }

// Transactions returns the transaction layer of the engine.
func (e *Engine) Transactions() *TransactionLayer { return e.layer }

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() StatsReport { return e.stats.Report() }

// StatsRecorder returns the recorder of the engine counters.
func (e *Engine) StatsRecorder() *StatsRecorder { return e.stats }

// Do runs fn under the engine executor.
// It fails with [ErrEngineClosed] after the engine was closed.
func (e *Engine) Do(ctx context.Context, fn func(ctx context.Context)) error {
	return errtrace.Wrap(e.do(ctx, fn))
}

func (e *Engine) do(ctx context.Context, fn func(ctx context.Context)) error {
	if err := e.exec.Do(ctx, fn); err != nil {
		if errors.Is(err, serial.ErrClosed) {
			return errtrace.Wrap(ErrEngineClosed)
		}
		return errtrace.Wrap(err)
	}
	return nil
}

// OnRequest registers a handler of requests outside of dialogs.
func (e *Engine) OnRequest(fn RequestHandler) (cancel func()) { return e.onReq.Add(fn) }

// OnDialogCreated registers a callback called when a dialog is created.
func (e *Engine) OnDialogCreated(fn DialogHandler) (cancel func()) { return e.onDlgCreated.Add(fn) }

// OnDialogDestroyed registers a callback called when a dialog is destroyed.
func (e *Engine) OnDialogDestroyed(fn DialogHandler) (cancel func()) { return e.onDlgDestroyed.Add(fn) }

func (e *Engine) nextGen() uint64 {
	e.gen++
	return e.gen
}

func (e *Engine) sendRaw(ctx context.Context, data string) bool {
	return e.layer.sendRaw(ctx, data)
}

// requestParams returns the defaults of locally built requests.
func (e *Engine) requestParams() *RequestParams {
	return &RequestParams{
		FromURI:         e.opts.URI,
		FromDisplayName: e.opts.DisplayName,
		CallID:          e.opts.CallIDPrefix + newCallID(),
		SessionTimers:   e.opts.SessionTimers,
		UserAgent:       e.opts.UserAgent,
	}
}

// NewRequest builds an out of dialog request filling the user agent defaults.
// Params fields that are set override the defaults.
// Dialog creating requests get the engine Contact unless one is given in extra headers.
func (e *Engine) NewRequest(
	method string,
	ruri *uri.URI,
	params *RequestParams,
	extra []string,
	body []byte,
) (*OutgoingRequest, error) {
	p := e.requestParams()
	if params != nil {
		p.ToURI = params.ToURI
		p.ToDisplayName = params.ToDisplayName
		p.ToTag = params.ToTag
		p.FromURI = cmp.Or(params.FromURI, p.FromURI)
		p.FromDisplayName = cmp.Or(params.FromDisplayName, p.FromDisplayName)
		p.FromTag = params.FromTag
		p.CallID = cmp.Or(params.CallID, p.CallID)
		p.CSeq = params.CSeq
		p.RouteSet = params.RouteSet
		p.SessionTimers = p.SessionTimers || params.SessionTimers
		p.UserAgent = cmp.Or(params.UserAgent, p.UserAgent)
	}
	return errtrace.Wrap2(e.newRequest(method, ruri, p, extra, body))
}

func (e *Engine) newRequest(
	method string,
	ruri *uri.URI,
	params *RequestParams,
	extra []string,
	body []byte,
) (*OutgoingRequest, error) {
	req, err := NewOutgoingRequest(method, ruri, params, extra, body)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if needsContact(req.Method) && !req.hdrs.Has(header.NameContact) {
		contact := &header.NameAddr{DisplayName: e.opts.DisplayName, URI: e.opts.ContactURI.Clone()}
		req.hdrs.addParsed(header.NameContact, contact.String(), contact)
	}
	return req, nil
}

func needsContact(method string) bool {
	switch method {
	case RequestMethodInvite, RequestMethodUpdate, RequestMethodSubscribe,
		RequestMethodNotify, RequestMethodRefer, RequestMethodRegister:
		return true
	}
	return false
}

// SendRequest sends an out of dialog request through a new [RequestSender].
func (e *Engine) SendRequest(ctx context.Context, req *OutgoingRequest, hdlrs *RequestHandlers) (*RequestSender, error) {
	s := e.NewRequestSender(req, hdlrs)
	if err := s.Send(ctx); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return s, nil
}

// FindDialog returns the dialog with the given identifier.
func (e *Engine) FindDialog(ctx context.Context, id DialogID) (*Dialog, bool) {
	var (
		dlg *Dialog
		ok  bool
	)
	_ = e.do(ctx, func(context.Context) {
		dlg, ok = e.dialogs[id]
	})
	return dlg, ok
}

// Dialogs returns the dialogs of the engine.
func (e *Engine) Dialogs(ctx context.Context) []*Dialog {
	var dlgs []*Dialog
	_ = e.do(ctx, func(context.Context) {
		for _, d := range e.dialogs {
			dlgs = append(dlgs, d)
		}
	})
	slices.SortFunc(dlgs, func(a, b *Dialog) int { return cmp.Compare(a.gen, b.gen) })
	return dlgs
}

func (e *Engine) fireDialogTimer(h dialogTimerHandle) {
	_ = e.exec.Do(context.Background(), func(ctx context.Context) {
		dlg, ok := e.dialogs[h.id]
		if !ok || dlg.gen != h.gen {
			return
		}
		dlg.expire(ctx, h)
	})
}

// OnData feeds a message received from the transport to the engine.
// Invalid messages are dropped and the parse error is returned.
func (e *Engine) OnData(ctx context.Context, data []byte) error {
	msg, err := Parse(data)
	if err != nil {
		e.stats.messageDropped()
		e.log.LogAttrs(ctx, slog.LevelWarn, "discard invalid message",
			slog.Any("data", log.StringValue(util.Ellipsis(string(data), 256))),
			slog.Any("error", err),
		)
		return errtrace.Wrap(err)
	}

	var closed bool
	if doErr := e.do(ctx, func(ctx context.Context) {
		if e.closed {
			closed = true
			return
		}
		switch m := msg.(type) {
		case *IncomingRequest:
			e.stats.messageReceived(true)
			m.eng = e
			if e.checkRequest(ctx, m) {
				e.receiveRequest(ctx, m)
			}
		case *IncomingResponse:
			e.stats.messageReceived(false)
			if e.checkResponse(ctx, m) {
				e.receiveResponse(ctx, m)
			}
		}
	}); doErr != nil {
		return errtrace.Wrap(doErr)
	}
	if closed {
		return errtrace.Wrap(ErrEngineClosed)
	}
	return nil
}

func (e *Engine) receiveResponse(ctx context.Context, res *IncomingResponse) {
	if e.layer.receiveResponse(ctx, res) {
		return
	}
	e.stats.messageDropped()
	e.log.LogAttrs(ctx, slog.LevelDebug, "discard response without transaction", slog.Any("response", res))
}

func (e *Engine) receiveRequest(ctx context.Context, req *IncomingRequest) {
	if u := req.RURI.User; u != e.opts.URI.User && u != e.opts.ContactURI.User {
		if req.Method != RequestMethodAck {
			e.layer.replySL(ctx, req, 404)
		}
		return
	}
	if req.RURI.Scheme == "sips" {
		e.layer.replySL(ctx, req, 416)
		return
	}

	if e.layer.checkTransaction(ctx, req) {
		return
	}
	if req.Method != RequestMethodAck && req.Method != RequestMethodCancel {
		e.layer.newServerTransaction(ctx, req)
	}

	if req.toTag == "" {
		e.receiveInitialRequest(ctx, req)
		return
	}

	id := DialogID{CallID: req.callID, LocalTag: req.toTag, RemoteTag: req.fromTag}
	if dlg, ok := e.dialogs[id]; ok {
		dlg.receiveRequest(ctx, req)
		return
	}
	if req.Method != RequestMethodAck {
		e.reply(ctx, req, 481)
	}
}

func (e *Engine) receiveInitialRequest(ctx context.Context, req *IncomingRequest) {
	if e.onReq.Len() > 0 {
		for fn := range e.onReq.All() {
			fn(ctx, req)
		}
		return
	}

	switch req.Method {
	case RequestMethodOptions, RequestMethodNotify:
		e.reply(ctx, req, 200)
	case RequestMethodBye:
		e.reply(ctx, req, 481)
	case RequestMethodAck:
	case RequestMethodCancel:
		e.log.LogAttrs(ctx, slog.LevelDebug, "CANCEL without handler", slog.Any("request", req))
	default:
		e.reply(ctx, req, 405)
	}
}

func (e *Engine) reply(ctx context.Context, req *IncomingRequest, code int) {
	if err := req.Reply(ctx, code, "", nil, nil); err != nil {
		e.log.LogAttrs(ctx, slog.LevelWarn, "failed to reply to request",
			slog.Any("request", req),
			slog.Int("code", code),
			slog.Any("error", err),
		)
	}
}

// Close terminates all transactions and dialogs. The engine refuses any further event.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	err := e.exec.Close(ctx, func(ctx context.Context) {
		if e.closed {
			return
		}
		e.closed = true

		dlgs := make([]*Dialog, 0, len(e.dialogs))
		for _, d := range e.dialogs {
			dlgs = append(dlgs, d)
		}
		for _, d := range dlgs {
			d.terminate(ctx)
		}
		if err := e.layer.terminateAll(ctx); err != nil {
			errs = append(errs, err)
		}
		e.onReq.Clear()
	})
	if errors.Is(err, serial.ErrClosed) {
		return nil
	}
	if err != nil {
		return errtrace.Wrap(err)
	}
	return errtrace.Wrap(errorutil.JoinPrefix("close engine:", errs...))
}

// LogValue implements [slog.LogValuer].
func (e *Engine) LogValue() slog.Value {
	if e == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Any("uri", e.opts.URI),
		slog.String("via_host", e.opts.ViaHost),
		slog.String("via_transport", e.opts.ViaTransport),
	)
}
