package sip

import (
	"context"
)

// NonInviteServerTransaction is a server transaction of any method but INVITE, ACK and CANCEL.
type NonInviteServerTransaction struct {
	*srvTransact
}

func (l *TransactionLayer) newNonInviteServerTransaction(ctx context.Context, req *IncomingRequest) *NonInviteServerTransaction {
	tx := new(NonInviteServerTransaction)
	tx.srvTransact = l.newSrvTransact(TransactionTypeServerNonInvite, tx, req)
	tx.initFSM(TransactionStateTrying)
	l.add(ctx, tx)
	return tx
}

const txEvtTimerJ = "timer_j"

func (tx *NonInviteServerTransaction) initFSM(start TransactionState) {
	tx.srvTransact.initFSM(start)

	tx.fsm.Configure(TransactionStateTrying).
		InternalTransition(txEvtRecvRequest, tx.actNoop).
		Permit(txEvtSend1xx, TransactionStateProceeding).
		Permit(txEvtSend2xx, TransactionStateCompleted).
		Permit(txEvtSend300699, TransactionStateCompleted).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateProceeding).
		OnEntryFrom(txEvtSend1xx, tx.actSendRes).
		InternalTransition(txEvtSend1xx, tx.actSendRes).
		InternalTransition(txEvtRecvRequest, tx.actResendLast).
		Permit(txEvtSend2xx, TransactionStateCompleted).
		Permit(txEvtSend300699, TransactionStateCompleted).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateCompleted).
		OnEntryFrom(txEvtSend2xx, tx.actCompleted).
		OnEntryFrom(txEvtSend300699, tx.actCompleted).
		InternalTransition(txEvtSend2xx, tx.actNoop).
		InternalTransition(txEvtSend300699, tx.actNoop).
		InternalTransition(txEvtRecvRequest, tx.actResendLast).
		Permit(txEvtTimerJ, TransactionStateTerminated).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateTerminated).
		OnEntry(tx.actTerminated).
		OnEntryFrom(txEvtTranspErr, tx.actTranspErr).
		InternalTransition(txEvtTerminate, tx.actNoop)
}

func (tx *NonInviteServerTransaction) actCompleted(ctx context.Context, args ...any) error {
	if !tx.sendRes(ctx, args[0].(*outgoingResponse)) { //nolint:forcetypeassert
		return nil
	}
	tx.startTimerOrFire(ctx, "J", unreliable(tx.reliable, tx.timings.TimeJ()), txEvtTimerJ)
	return nil
}

func (tx *NonInviteServerTransaction) onTimer(ctx context.Context, name string) {
	if name == "J" {
		tx.fire(ctx, txEvtTimerJ)
	}
}
