package sip

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"braces.dev/errtrace"
	"github.com/qmuntal/stateless"

	"github.com/ghettovoice/sipcore/internal/errorutil"
	"github.com/ghettovoice/sipcore/internal/timeutil"
	"github.com/ghettovoice/sipcore/internal/types"
)

// Transaction is a SIP transaction, one of
// [*NonInviteClientTransaction], [*InviteClientTransaction], [*AckClientTransaction],
// [*NonInviteServerTransaction] or [*InviteServerTransaction].
type Transaction interface {
	slog.LogValuer
	// Type returns the transaction type.
	Type() TransactionType
	// Branch returns the Via branch identifying the transaction.
	Branch() string
	// State returns the current state.
	State() TransactionState
	// OnStateChanged registers a callback called on every state change.
	OnStateChanged(fn TransactionStateHandler) (cancel func())
	// OnError registers a callback called when the transaction ends abnormally:
	// on a timeout, a transport failure or a missing ACK.
	OnError(fn TransactionErrorHandler) (cancel func())
	// Terminate moves the transaction to the terminated state.
	Terminate(ctx context.Context) error
}

type (
	TransactionStateHandler = func(ctx context.Context, tx Transaction, from, to TransactionState)
	TransactionErrorHandler = func(ctx context.Context, tx Transaction, err error)
)

// TransactionType is a kind of transaction.
type TransactionType string

const (
	TransactionTypeClientInvite    TransactionType = "client_invite"
	TransactionTypeClientNonInvite TransactionType = "client_non_invite"
	TransactionTypeClientAck       TransactionType = "client_ack"
	TransactionTypeServerInvite    TransactionType = "server_invite"
	TransactionTypeServerNonInvite TransactionType = "server_non_invite"
)

// TransactionState is a transaction state.
type TransactionState string

const (
	TransactionStateTrying     TransactionState = "trying"
	TransactionStateCalling    TransactionState = "calling"
	TransactionStateProceeding TransactionState = "proceeding"
	TransactionStateCompleted  TransactionState = "completed"
	TransactionStateAccepted   TransactionState = "accepted"
	TransactionStateConfirmed  TransactionState = "confirmed"
	TransactionStateTerminated TransactionState = "terminated"
)

const txCtxKey types.ContextKey = "transaction"

// ContextWithTransaction returns a copy of ctx carrying the transaction.
func ContextWithTransaction(ctx context.Context, tx Transaction) context.Context {
	return context.WithValue(ctx, txCtxKey, tx)
}

// TransactionFromContext returns the transaction stored in ctx by [ContextWithTransaction].
func TransactionFromContext(ctx context.Context) (Transaction, bool) {
	tx, ok := ctx.Value(txCtxKey).(Transaction)
	return tx, ok
}

const (
	txEvtTerminate = "terminate"
	txEvtTranspErr = "transport_error"
)

// transactImpl is implemented by the tabled transactions.
type transactImpl interface {
	Transaction
	base() *baseTransact
	onTimer(ctx context.Context, name string)
}

type txTimer struct {
	tmr *timeutil.Timer
	seq uint64
}

type baseTransact struct {
	typ      TransactionType
	impl     transactImpl
	branch   string
	gen      uint64
	layer    *TransactionLayer
	tp       Transport
	reliable bool
	timings  TimingConfig
	log      *slog.Logger
	fsm      *stateless.StateMachine

	timers   map[string]txTimer
	timerSeq uint64
	err      error

	onState types.CallbackManager[TransactionStateHandler]
	onErr   types.CallbackManager[TransactionErrorHandler]
}

func newBaseTransact(typ TransactionType, impl transactImpl, branch string, layer *TransactionLayer) *baseTransact {
	return &baseTransact{
		typ:      typ,
		impl:     impl,
		branch:   branch,
		gen:      layer.nextGen(),
		layer:    layer,
		tp:       layer.tp,
		reliable: layer.reliable,
		timings:  layer.timings,
		log:      layer.log,
		timers:   make(map[string]txTimer),
	}
}

func (tx *baseTransact) base() *baseTransact { return tx }

// Type returns the transaction type.
func (tx *baseTransact) Type() TransactionType { return tx.typ }

// Branch returns the Via branch identifying the transaction.
func (tx *baseTransact) Branch() string { return tx.branch }

// State returns the current state.
func (tx *baseTransact) State() TransactionState {
	if tx == nil || tx.fsm == nil {
		return ""
	}
	return tx.fsm.MustState().(TransactionState) //nolint:forcetypeassert
}

// LogValue implements [slog.LogValuer].
func (tx *baseTransact) LogValue() slog.Value {
	if tx == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("type", string(tx.typ)),
		slog.String("branch", tx.branch),
		slog.String("state", string(tx.State())),
	)
}

// OnStateChanged registers a callback called on every state change.
func (tx *baseTransact) OnStateChanged(fn TransactionStateHandler) (cancel func()) {
	return tx.onState.Add(fn)
}

// OnError registers a callback called when the transaction ends abnormally.
func (tx *baseTransact) OnError(fn TransactionErrorHandler) (cancel func()) {
	return tx.onErr.Add(fn)
}

// Terminate moves the transaction to the terminated state.
func (tx *baseTransact) Terminate(ctx context.Context) error {
	var err error
	if doErr := tx.layer.exec.Do(ctx, func(ctx context.Context) {
		if tx.State() == TransactionStateTerminated {
			return
		}
		err = tx.fsm.FireCtx(ctx, txEvtTerminate)
	}); doErr != nil {
		return errtrace.Wrap(doErr)
	}
	return errtrace.Wrap(err)
}

func (tx *baseTransact) initFSM(start TransactionState) {
	tx.fsm = stateless.NewStateMachine(start)
	tx.fsm.OnUnhandledTrigger(func(_ context.Context, state stateless.State, trigger stateless.Trigger, _ []string) error {
		return errtrace.Wrap(errorutil.NewWrapperError(ErrActionNotAllowed, "%v in state %v", trigger, state))
	})
	tx.fsm.OnTransitioned(func(ctx context.Context, t stateless.Transition) {
		from := t.Source.(TransactionState)    //nolint:forcetypeassert
		to := t.Destination.(TransactionState) //nolint:forcetypeassert
		if from == to {
			return
		}

		tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction state changed",
			slog.Any("transaction", tx.impl),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
			slog.Any("trigger", t.Trigger),
		)

		for fn := range tx.onState.All() {
			fn(ctx, tx.impl, from, to)
		}
	})
}

func (tx *baseTransact) fire(ctx context.Context, trigger string, args ...any) {
	if err := tx.fsm.FireCtx(ctx, trigger, args...); err != nil {
		panic(fmt.Errorf("fire %q in state %q: %w", trigger, tx.State(), err))
	}
}

func (tx *baseTransact) send(ctx context.Context, data string) bool {
	if send(ctx, tx.tp, tx.log, data) {
		tx.layer.stats.messageSent()
		return true
	}
	tx.fire(ctx, txEvtTranspErr)
	return false
}

func (tx *baseTransact) reportErr(ctx context.Context, err error) {
	tx.err = err
	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction failed", slog.Any("transaction", tx.impl), slog.Any("error", err))

	for fn := range tx.onErr.All() {
		fn(ctx, tx.impl, err)
	}
}

// startTimer (re)starts the named timer.
// The timer refers to the transaction by a handle, so it becomes a no-op
// once the transaction leaves the table or the timer is restarted or stopped.
func (tx *baseTransact) startTimer(ctx context.Context, name string, d time.Duration) {
	if t, ok := tx.timers[name]; ok {
		t.tmr.Stop()
	}

	tx.timerSeq++
	h := timerHandle{
		kind:   tx.typ,
		branch: tx.branch,
		gen:    tx.gen,
		timer:  name,
		seq:    tx.timerSeq,
	}
	layer := tx.layer
	tmr := timeutil.AfterFunc(d, func() { layer.fireTimer(h) })
	tx.timers[name] = txTimer{tmr: tmr, seq: h.seq}

	tx.log.LogAttrs(ctx, slog.LevelDebug, "timer "+name+" started",
		slog.Any("transaction", tx.impl),
		slog.Time("expires_at", tmr.ExpiresAt()),
	)
}

// startTimerOrFire starts the named timer or, for a zero duration, fires its trigger at once.
func (tx *baseTransact) startTimerOrFire(ctx context.Context, name string, d time.Duration, trigger string) {
	if d > 0 {
		tx.startTimer(ctx, name, d)
		return
	}
	tx.fire(ctx, trigger)
}

func (tx *baseTransact) stopTimer(ctx context.Context, name string) {
	t, ok := tx.timers[name]
	if !ok {
		return
	}
	delete(tx.timers, name)
	if t.tmr.Stop() {
		tx.log.LogAttrs(ctx, slog.LevelDebug, "timer "+name+" stopped", slog.Any("transaction", tx.impl))
	}
}

func (tx *baseTransact) stopTimers(ctx context.Context) {
	for name := range tx.timers {
		tx.stopTimer(ctx, name)
	}
}

// hasTimer reports whether the named timer is running.
func (tx *baseTransact) hasTimer(name string) bool {
	_, ok := tx.timers[name]
	return ok
}

// expire dispatches a fired timer handle, ignoring stale ones.
func (tx *baseTransact) expire(ctx context.Context, h timerHandle) {
	t, ok := tx.timers[h.timer]
	if !ok || t.seq != h.seq {
		return
	}
	delete(tx.timers, h.timer)

	tx.log.LogAttrs(ctx, slog.LevelDebug, "timer "+h.timer+" expired", slog.Any("transaction", tx.impl))

	tx.impl.onTimer(ctx, h.timer)
}

//nolint:unparam
func (tx *baseTransact) actTerminated(ctx context.Context, _ ...any) error {
	tx.stopTimers(ctx)
	tx.layer.remove(ctx, tx.impl)

	tx.log.LogAttrs(ctx, slog.LevelDebug, "transaction terminated", slog.Any("transaction", tx.impl))
	return nil
}

func (tx *baseTransact) actTimedOut(ctx context.Context, _ ...any) error {
	tx.reportErr(ctx, ErrTransactionTimedOut)
	return nil
}

func (tx *baseTransact) actTranspErr(ctx context.Context, _ ...any) error {
	tx.reportErr(ctx, ErrTransportFailure)
	return nil
}

func (*baseTransact) actNoop(context.Context, ...any) error { return nil }
