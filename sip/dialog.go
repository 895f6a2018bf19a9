package sip

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"braces.dev/errtrace"
	"github.com/looplab/fsm"

	"github.com/ghettovoice/sipcore/header"
	"github.com/ghettovoice/sipcore/internal/errorutil"
	"github.com/ghettovoice/sipcore/internal/timeutil"
	"github.com/ghettovoice/sipcore/internal/util"
	"github.com/ghettovoice/sipcore/uri"
)

// DialogID identifies a dialog from the local point of view.
type DialogID struct {
	CallID    string
	LocalTag  string
	RemoteTag string
}

func (id DialogID) String() string {
	return id.CallID + ";local-tag=" + id.LocalTag + ";remote-tag=" + id.RemoteTag
}

// DialogRole is the role of the local side in the message that created the dialog.
type DialogRole string

const (
	DialogRoleUAC DialogRole = "UAC"
	DialogRoleUAS DialogRole = "UAS"
)

type DialogState string

const (
	DialogStateEarly      DialogState = "early"
	DialogStateConfirmed  DialogState = "confirmed"
	DialogStateTerminated DialogState = "terminated"
)

const (
	dlgEvtConfirm   = "confirm"
	dlgEvtTerminate = "terminate"
)

// DialogOwner is the session or subscription a dialog belongs to.
type DialogOwner interface {
	// ReceiveRequest is called with every in-dialog request accepted by the dialog.
	ReceiveRequest(ctx context.Context, req *IncomingRequest)
}

// DialogOwnerFunc adapts a function to [DialogOwner].
type DialogOwnerFunc func(ctx context.Context, req *IncomingRequest)

func (f DialogOwnerFunc) ReceiveRequest(ctx context.Context, req *IncomingRequest) { f(ctx, req) }

// Dialog keeps the state of a dialog (RFC 3261 section 12).
// Dialog methods that take a context run under the engine executor.
type Dialog struct {
	eng   *Engine
	owner DialogOwner
	id    DialogID
	role  DialogRole
	gen   uint64
	fsm   *fsm.FSM
	log   *slog.Logger

	localSeq     uint32
	localSeqSet  bool
	remoteSeq    uint32
	remoteSeqSet bool
	ackSeq       uint32
	ackSeqSet    bool

	localURI     *uri.URI
	remoteURI    *uri.URI
	remoteTarget *uri.URI
	routeSet     []string

	uacPendingReply bool
	uasPendingReply bool

	timers   map[uint64]dialogTimer
	timerSeq uint64
}

type dialogTimer struct {
	tmr *timeutil.Timer
	fn  func(ctx context.Context)
}

// dialogTimerHandle refers to a dialog timer through the dialog table.
type dialogTimerHandle struct {
	id  DialogID
	gen uint64
	seq uint64
}

// CreateDialog creates a dialog from a message and registers it in the dialog table.
// For the UAC role msg is the response that established the dialog, and the state is
// derived from its status code. For the UAS role msg is the request, and state
// is the initial dialog state.
func (e *Engine) CreateDialog(
	ctx context.Context,
	owner DialogOwner,
	msg Message,
	role DialogRole,
	state DialogState,
) (*Dialog, error) {
	var (
		dlg *Dialog
		err error
	)
	if doErr := e.do(ctx, func(ctx context.Context) {
		if e.closed {
			err = ErrEngineClosed
			return
		}
		dlg, err = e.newDialog(ctx, owner, msg, role, state)
	}); doErr != nil {
		return nil, errtrace.Wrap(doErr)
	}
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return dlg, nil
}

func (e *Engine) newDialog(
	ctx context.Context,
	owner DialogOwner,
	msg Message,
	role DialogRole,
	state DialogState,
) (*Dialog, error) {
	dlg := &Dialog{
		eng:    e,
		owner:  owner,
		role:   role,
		log:    e.log,
		timers: make(map[uint64]dialogTimer),
	}

	switch m := msg.(type) {
	case *IncomingResponse:
		if role != DialogRoleUAC {
			return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrDialogCreation, "response requires %s role", DialogRoleUAC))
		}
		contact, err := m.Contact()
		if err != nil {
			return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrDialogCreation, "missing Contact header"))
		}
		if m.toTag == "" {
			return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrDialogCreation, "missing To tag"))
		}
		from, _ := m.From()
		to, _ := m.To()

		state = DialogStateConfirmed
		if m.StatusCode < 200 {
			state = DialogStateEarly
		}
		dlg.id = DialogID{CallID: m.callID, LocalTag: m.fromTag, RemoteTag: m.toTag}
		dlg.localSeq, dlg.localSeqSet = m.cseq.Seq, true
		dlg.localURI = from.URI
		dlg.remoteURI = to.URI
		dlg.remoteTarget = contact.URI
		dlg.routeSet = reversed(m.hdrs.Values(header.NameRecordRoute))
	case *IncomingRequest:
		if role != DialogRoleUAS {
			return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrDialogCreation, "request requires %s role", DialogRoleUAS))
		}
		contact, err := m.Contact()
		if err != nil {
			return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrDialogCreation, "missing Contact header"))
		}
		from, _ := m.From()
		to, _ := m.To()

		localTag := m.toTag
		if localTag == "" {
			localTag = m.LocalTag()
		}
		dlg.id = DialogID{CallID: m.callID, LocalTag: localTag, RemoteTag: m.fromTag}
		dlg.remoteSeq, dlg.remoteSeqSet = m.cseq.Seq, true
		dlg.ackSeq, dlg.ackSeqSet = m.cseq.Seq, true
		dlg.localURI = to.URI
		dlg.remoteURI = from.URI
		dlg.remoteTarget = contact.URI
		dlg.routeSet = m.hdrs.Values(header.NameRecordRoute)
	default:
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrDialogCreation, "unexpected message %T", msg))
	}

	if state != DialogStateEarly && state != DialogStateConfirmed {
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrDialogCreation, "invalid initial state %q", state))
	}
	if _, ok := e.dialogs[dlg.id]; ok {
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrDialogCreation, "dialog %s already exists", dlg.id))
	}

	dlg.initFSM(state)
	dlg.gen = e.nextGen()
	e.dialogs[dlg.id] = dlg
	e.stats.dialogCreated()

	e.log.LogAttrs(ctx, slog.LevelInfo, "dialog created", slog.Any("dialog", dlg))

	for fn := range e.onDlgCreated.All() {
		fn(ctx, dlg)
	}
	return dlg, nil
}

func reversed(vs []string) []string {
	vs = slices.Clone(vs)
	slices.Reverse(vs)
	return vs
}

func (d *Dialog) initFSM(state DialogState) {
	d.fsm = fsm.NewFSM(
		string(state),
		fsm.Events{
			{Name: dlgEvtConfirm, Src: []string{string(DialogStateEarly)}, Dst: string(DialogStateConfirmed)},
			{
				Name: dlgEvtTerminate,
				Src:  []string{string(DialogStateEarly), string(DialogStateConfirmed)},
				Dst:  string(DialogStateTerminated),
			},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				d.log.LogAttrs(ctx, slog.LevelInfo, "dialog state changed",
					slog.String("dialog", d.id.String()),
					slog.String("from", e.Src),
					slog.String("to", e.Dst),
				)
			},
		},
	)
}

// ID returns the dialog identifier.
func (d *Dialog) ID() DialogID { return d.id }

// Role returns the role the dialog was created with.
func (d *Dialog) Role() DialogRole { return d.role }

// State returns the current dialog state.
func (d *Dialog) State() DialogState { return DialogState(d.fsm.Current()) }

// Owner returns the dialog owner.
func (d *Dialog) Owner() DialogOwner { return d.owner }

// LocalSeq returns the local CSeq number and whether it was set.
func (d *Dialog) LocalSeq() (uint32, bool) { return d.localSeq, d.localSeqSet }

// RemoteSeq returns the remote CSeq number and whether it was set.
func (d *Dialog) RemoteSeq() (uint32, bool) { return d.remoteSeq, d.remoteSeqSet }

// RemoteTarget returns the URI requests are sent to.
func (d *Dialog) RemoteTarget() *uri.URI { return d.remoteTarget }

// RouteSet returns the Route header values of in-dialog requests.
func (d *Dialog) RouteSet() []string { return slices.Clone(d.routeSet) }

// UACPendingReply reports whether a local offer is waiting for a final response.
func (d *Dialog) UACPendingReply() bool { return d.uacPendingReply }

// UASPendingReply reports whether a remote offer is waiting for a local final response.
func (d *Dialog) UASPendingReply() bool { return d.uasPendingReply }

// LogValue implements [slog.LogValuer].
func (d *Dialog) LogValue() slog.Value {
	if d == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("id", d.id.String()),
		slog.String("role", string(d.role)),
		slog.String("state", d.fsm.Current()),
	)
}

// Update confirms an early dialog. For the UAC role the route set is
// rebuilt from the Record-Route headers of the message.
func (d *Dialog) Update(ctx context.Context, msg Message, role DialogRole) error {
	return errtrace.Wrap(d.eng.do(ctx, func(ctx context.Context) {
		if d.State() == DialogStateEarly {
			if err := d.fsm.Event(ctx, dlgEvtConfirm); err != nil {
				d.log.LogAttrs(ctx, slog.LevelError, "failed to confirm dialog", slog.Any("dialog", d), slog.Any("error", err))
			}
		}
		if role == DialogRoleUAC {
			d.routeSet = reversed(msg.Headers().Values(header.NameRecordRoute))
		}
	}))
}

// Terminate removes the dialog from the dialog table and stops its timers.
func (d *Dialog) Terminate(ctx context.Context) error {
	return errtrace.Wrap(d.eng.do(ctx, func(ctx context.Context) {
		d.terminate(ctx)
	}))
}

func (d *Dialog) terminate(ctx context.Context) {
	if d.State() == DialogStateTerminated {
		return
	}
	if err := d.fsm.Event(ctx, dlgEvtTerminate); err != nil {
		d.log.LogAttrs(ctx, slog.LevelError, "failed to terminate dialog", slog.Any("dialog", d), slog.Any("error", err))
	}

	for seq, t := range d.timers {
		t.tmr.Stop()
		delete(d.timers, seq)
	}
	if cur, ok := d.eng.dialogs[d.id]; ok && cur == d {
		delete(d.eng.dialogs, d.id)
		d.eng.stats.dialogDestroyed()
	}

	d.log.LogAttrs(ctx, slog.LevelInfo, "dialog destroyed", slog.Any("dialog", d))

	for fn := range d.eng.onDlgDestroyed.All() {
		fn(ctx, d)
	}
}

// startTimer runs fn under the executor after the delay, unless the dialog is gone by then.
func (d *Dialog) startTimer(after time.Duration, fn func(ctx context.Context)) {
	d.timerSeq++
	h := dialogTimerHandle{id: d.id, gen: d.gen, seq: d.timerSeq}
	eng := d.eng
	d.timers[h.seq] = dialogTimer{
		tmr: timeutil.AfterFunc(after, func() { eng.fireDialogTimer(h) }),
		fn:  fn,
	}
}

func (d *Dialog) expire(ctx context.Context, h dialogTimerHandle) {
	t, ok := d.timers[h.seq]
	if !ok {
		return
	}
	delete(d.timers, h.seq)
	t.fn(ctx)
}

// CreateRequest builds an in-dialog request.
// ACK and CANCEL reuse the current local CSeq, other methods increment it.
func (d *Dialog) CreateRequest(ctx context.Context, method string, extra []string, body []byte) (*OutgoingRequest, error) {
	var (
		req *OutgoingRequest
		err error
	)
	if doErr := d.eng.do(ctx, func(context.Context) {
		req, err = d.createRequest(method, extra, body)
	}); doErr != nil {
		return nil, errtrace.Wrap(doErr)
	}
	return req, errtrace.Wrap(err)
}

func (d *Dialog) createRequest(method string, extra []string, body []byte) (*OutgoingRequest, error) {
	method = util.UCase(method)
	if !d.localSeqSet {
		d.localSeq, d.localSeqSet = uint32(util.RandInt(1, 10000)), true
	}
	if method != RequestMethodAck && method != RequestMethodCancel {
		d.localSeq++
	}

	params := d.eng.requestParams()
	params.CallID = d.id.CallID
	params.CSeq = d.localSeq
	params.FromURI = d.localURI
	params.FromTag = d.id.LocalTag
	params.ToURI = d.remoteURI
	params.ToTag = d.id.RemoteTag
	params.RouteSet = d.routeSet
	return errtrace.Wrap2(d.eng.newRequest(method, d.remoteTarget, params, extra, body))
}

// DialogRequestOptions are options of [Dialog.SendRequest].
type DialogRequestOptions struct {
	ExtraHeaders []string
	Body         []byte
	Handlers     DialogRequestHandlers
}

// SendRequest creates an in-dialog request and sends it.
// A new offer, INVITE or UPDATE with a body, fails with [ErrGlare]
// while another offer of either side is pending.
func (d *Dialog) SendRequest(ctx context.Context, method string, opts *DialogRequestOptions) (*DialogRequestSender, error) {
	if opts == nil {
		opts = new(DialogRequestOptions)
	}

	var (
		s   *DialogRequestSender
		err error
	)
	if doErr := d.eng.do(ctx, func(ctx context.Context) {
		if d.State() == DialogStateTerminated {
			err = errorutil.NewWrapperError(ErrActionNotAllowed, "dialog terminated")
			return
		}
		method = util.UCase(method)
		if isOffer(method, opts.Body) && (d.uacPendingReply || d.uasPendingReply) {
			err = ErrGlare
			return
		}

		var req *OutgoingRequest
		if req, err = d.createRequest(method, opts.ExtraHeaders, opts.Body); err != nil {
			return
		}
		s = d.newRequestSender(req, opts.Handlers)
		err = s.send(ctx)
	}); doErr != nil {
		return nil, errtrace.Wrap(doErr)
	}
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return s, nil
}

func isOffer(method string, body []byte) bool {
	return method == RequestMethodInvite || (method == RequestMethodUpdate && len(body) > 0)
}

// ReceiveRequest passes an in-dialog request through the dialog checks.
// Requests are usually routed here by the engine.
func (d *Dialog) ReceiveRequest(ctx context.Context, req *IncomingRequest) error {
	return errtrace.Wrap(d.eng.do(ctx, func(ctx context.Context) {
		d.receiveRequest(ctx, req)
	}))
}

// receiveRequest applies the in-dialog checks of RFC 3261 section 12.2.2 and
// the offer serialization of section 14.2, then passes the request to the owner.
func (d *Dialog) receiveRequest(ctx context.Context, req *IncomingRequest) {
	if !d.checkInDialogRequest(ctx, req) {
		return
	}

	switch {
	case req.Method == RequestMethodAck && d.ackSeqSet:
		d.ackSeqSet = false
	case req.Method == RequestMethodInvite:
		d.ackSeq, d.ackSeqSet = req.cseq.Seq, true
	}

	if d.owner != nil {
		d.owner.ReceiveRequest(ctx, req)
	}
}

func (d *Dialog) checkInDialogRequest(ctx context.Context, req *IncomingRequest) bool {
	seq := req.cseq.Seq
	switch {
	case !d.remoteSeqSet:
		d.remoteSeq, d.remoteSeqSet = seq, true
	case seq < d.remoteSeq:
		if req.Method == RequestMethodAck {
			if !d.ackSeqSet || seq != d.ackSeq {
				return false
			}
		} else {
			d.reply(ctx, req, 500, nil)
			return false
		}
	case seq > d.remoteSeq:
		d.remoteSeq = seq
	}

	srvTx := req.srvTx
	switch {
	case isOffer(req.Method, req.body):
		if d.uacPendingReply {
			d.reply(ctx, req, 491, nil)
			return false
		}
		if d.uasPendingReply {
			d.reply(ctx, req, 500, []string{header.NameRetryAfter + ": " + strconv.Itoa(util.RandInt(1, 11))})
			return false
		}
		if srvTx == nil {
			break
		}

		d.uasPendingReply = true
		var cancel func()
		cancel = srvTx.OnStateChanged(func(_ context.Context, _ Transaction, _, to TransactionState) {
			if to == TransactionStateAccepted || to == TransactionStateCompleted || to == TransactionStateTerminated {
				cancel()
				d.uasPendingReply = false
			}
		})
		d.refreshTargetOn(req, srvTx)
	case req.Method == RequestMethodNotify && srvTx != nil:
		d.refreshTargetOn(req, srvTx)
	}
	return true
}

// refreshTargetOn replaces the remote target with the request Contact once
// the request is accepted: INVITE on ACCEPTED, other methods on COMPLETED with a 2xx.
func (d *Dialog) refreshTargetOn(req *IncomingRequest, srvTx ServerTransaction) {
	contact, err := req.Contact()
	if err != nil {
		return
	}

	var cancel func()
	cancel = srvTx.OnStateChanged(func(ctx context.Context, _ Transaction, _, to TransactionState) {
		switch to {
		case TransactionStateAccepted:
		case TransactionStateCompleted:
			if code := srvTx.LastResponse(); req.Method == RequestMethodInvite || code < 200 || code >= 300 {
				cancel()
				return
			}
		default:
			if to == TransactionStateTerminated {
				cancel()
			}
			return
		}
		cancel()
		d.remoteTarget = contact.URI
		d.log.LogAttrs(ctx, slog.LevelDebug, "dialog remote target refreshed",
			slog.Any("dialog", d),
			slog.Any("target", contact.URI),
		)
	})
}

func (d *Dialog) reply(ctx context.Context, req *IncomingRequest, code int, extra []string) {
	if err := req.Reply(ctx, code, "", extra, nil); err != nil {
		d.log.LogAttrs(ctx, slog.LevelWarn, fmt.Sprintf("failed to reply %d to in-dialog request", code),
			slog.Any("dialog", d),
			slog.Any("error", err),
		)
	}
}
