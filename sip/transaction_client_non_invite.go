package sip

import (
	"context"
	"time"

	"braces.dev/errtrace"
)

// NonInviteClientTransaction is a client transaction of any method but INVITE and ACK.
type NonInviteClientTransaction struct {
	*clientTransact

	durE time.Duration
}

// NewNonInviteClientTransaction creates a non-INVITE client transaction and puts it into the table.
// The request is sent by [NonInviteClientTransaction.Start].
func (l *TransactionLayer) NewNonInviteClientTransaction(
	ctx context.Context,
	req *OutgoingRequest,
	opts *ClientTransactionOptions,
) (*NonInviteClientTransaction, error) {
	if req == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil request"))
	}
	if req.Method == RequestMethodInvite || req.Method == RequestMethodAck {
		return nil, errtrace.Wrap(NewInvalidArgumentError(ErrMethodNotAllowed))
	}

	var tx *NonInviteClientTransaction
	if err := l.exec.Do(ctx, func(ctx context.Context) {
		tx = new(NonInviteClientTransaction)
		tx.clientTransact = l.newClientTransact(TransactionTypeClientNonInvite, tx, req, opts)
		tx.initFSM(TransactionStateTrying)
		l.add(ctx, tx)
	}); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return tx, nil
}

const (
	txEvtTimerE = "timer_e"
	txEvtTimerF = "timer_f"
	txEvtTimerK = "timer_k"
)

func (tx *NonInviteClientTransaction) initFSM(start TransactionState) {
	tx.clientTransact.initFSM(start)

	tx.fsm.Configure(TransactionStateTrying).
		InternalTransition(txEvtSend, tx.actTrying).
		InternalTransition(txEvtTimerE, tx.actResend).
		Permit(txEvtRecv1xx, TransactionStateProceeding).
		Permit(txEvtRecv2xx, TransactionStateCompleted).
		Permit(txEvtRecv300699, TransactionStateCompleted).
		Permit(txEvtTimerF, TransactionStateTerminated).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateProceeding).
		OnEntryFrom(txEvtRecv1xx, tx.actPassRes).
		InternalTransition(txEvtRecv1xx, tx.actPassRes).
		InternalTransition(txEvtTimerE, tx.actResend).
		Permit(txEvtRecv2xx, TransactionStateCompleted).
		Permit(txEvtRecv300699, TransactionStateCompleted).
		Permit(txEvtTimerF, TransactionStateTerminated).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateCompleted).
		OnEntryFrom(txEvtRecv2xx, tx.actCompleted).
		OnEntryFrom(txEvtRecv300699, tx.actCompleted).
		InternalTransition(txEvtRecv1xx, tx.actNoop).
		InternalTransition(txEvtRecv2xx, tx.actNoop).
		InternalTransition(txEvtRecv300699, tx.actNoop).
		Permit(txEvtTimerK, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateTerminated).
		OnEntry(tx.actTerminated).
		OnEntryFrom(txEvtTimerF, tx.actTimedOut).
		OnEntryFrom(txEvtTranspErr, tx.actTranspErr).
		InternalTransition(txEvtTerminate, tx.actNoop)
}

// Start sends the request and arms the timers.
func (tx *NonInviteClientTransaction) Start(ctx context.Context) error {
	return errtrace.Wrap(tx.start(ctx))
}

func (tx *NonInviteClientTransaction) actTrying(ctx context.Context, _ ...any) error {
	if !tx.send(ctx, tx.req.String()) {
		return nil
	}

	if !tx.reliable {
		tx.durE = tx.timings.TimeE()
		tx.startTimer(ctx, "E", tx.durE)
	}
	tx.startTimer(ctx, "F", tx.timings.TimeF())
	return nil
}

func (tx *NonInviteClientTransaction) actResend(ctx context.Context, _ ...any) error {
	if !tx.send(ctx, tx.req.String()) {
		return nil
	}

	if tx.State() == TransactionStateTrying {
		tx.durE = min(2*tx.durE, tx.timings.T2())
	} else {
		tx.durE = tx.timings.T2()
	}
	tx.startTimer(ctx, "E", tx.durE)
	return nil
}

func (tx *NonInviteClientTransaction) actCompleted(ctx context.Context, args ...any) error {
	tx.stopTimer(ctx, "E")
	tx.stopTimer(ctx, "F")

	res := args[0].(*IncomingResponse) //nolint:forcetypeassert
	if res.StatusCode == 408 {
		tx.reportErr(ctx, ErrTransactionTimedOut)
	} else {
		tx.passUp(ctx, res)
	}

	tx.startTimerOrFire(ctx, "K", unreliable(tx.reliable, tx.timings.TimeK()), txEvtTimerK)
	return nil
}

func (tx *NonInviteClientTransaction) onTimer(ctx context.Context, name string) {
	switch name {
	case "E":
		tx.fire(ctx, txEvtTimerE)
	case "F":
		tx.fire(ctx, txEvtTimerF)
	case "K":
		tx.fire(ctx, txEvtTimerK)
	}
}
