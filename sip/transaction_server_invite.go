package sip

import (
	"context"
	"time"
)

// InviteServerTransaction is an INVITE server transaction.
// A 100 Trying is sent when the transaction is created.
type InviteServerTransaction struct {
	*srvTransact

	durG time.Duration
}

func (l *TransactionLayer) newInviteServerTransaction(ctx context.Context, req *IncomingRequest) *InviteServerTransaction {
	tx := new(InviteServerTransaction)
	tx.srvTransact = l.newSrvTransact(TransactionTypeServerInvite, tx, req)
	tx.initFSM(TransactionStateProceeding)
	l.add(ctx, tx)

	req.srvTx = tx
	_ = tx.respond(ctx, 100, req.buildResponse(100, "", nil, nil))
	return tx
}

const (
	txEvtTimerG    = "timer_g"
	txEvtTimerH    = "timer_h"
	txEvtTimerI    = "timer_i"
	txEvtTimerL    = "timer_l"
	txEvtTimerProv = "timer_provisional"
)

func (tx *InviteServerTransaction) initFSM(start TransactionState) {
	tx.srvTransact.initFSM(start)

	tx.fsm.Configure(TransactionStateProceeding).
		OnExit(tx.actLeaveProceeding).
		InternalTransition(txEvtSend1xx, tx.actProvisional).
		InternalTransition(txEvtTimerProv, tx.actResendProvisional).
		InternalTransition(txEvtRecvRequest, tx.actResendLast).
		Permit(txEvtSend2xx, TransactionStateAccepted).
		Permit(txEvtSend300699, TransactionStateCompleted).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateAccepted).
		OnEntryFrom(txEvtSend2xx, tx.actAccepted).
		InternalTransition(txEvtSend2xx, tx.actSendRes).
		InternalTransition(txEvtRecvRequest, tx.actNoop).
		InternalTransition(txEvtRecvAck, tx.actNoop).
		Permit(txEvtTimerL, TransactionStateTerminated).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateCompleted).
		OnEntryFrom(txEvtSend300699, tx.actCompleted).
		InternalTransition(txEvtTimerG, tx.actResendFinal).
		InternalTransition(txEvtRecvRequest, tx.actResendLast).
		Permit(txEvtRecvAck, TransactionStateConfirmed).
		Permit(txEvtTimerH, TransactionStateTerminated).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateConfirmed).
		OnEntry(tx.actConfirmed).
		InternalTransition(txEvtRecvAck, tx.actNoop).
		InternalTransition(txEvtRecvRequest, tx.actNoop).
		Permit(txEvtTimerI, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateTerminated).
		OnEntry(tx.actTerminated).
		OnEntryFrom(txEvtTimerH, tx.actNoAck).
		OnEntryFrom(txEvtTranspErr, tx.actTranspErr).
		InternalTransition(txEvtTerminate, tx.actNoop)
}

func (tx *InviteServerTransaction) actProvisional(ctx context.Context, args ...any) error {
	if !tx.sendRes(ctx, args[0].(*outgoingResponse)) { //nolint:forcetypeassert
		return nil
	}
	if tx.lastRes.code > 100 && !tx.hasTimer("provisional") {
		tx.startTimer(ctx, "provisional", tx.timings.TimeProvisional())
	}
	return nil
}

func (tx *InviteServerTransaction) actResendProvisional(ctx context.Context, _ ...any) error {
	if tx.lastRes == nil || !tx.send(ctx, tx.lastRes.data) {
		return nil
	}
	tx.startTimer(ctx, "provisional", tx.timings.TimeProvisional())
	return nil
}

func (tx *InviteServerTransaction) actLeaveProceeding(ctx context.Context, _ ...any) error {
	tx.stopTimer(ctx, "provisional")
	return nil
}

func (tx *InviteServerTransaction) actAccepted(ctx context.Context, args ...any) error {
	if !tx.sendRes(ctx, args[0].(*outgoingResponse)) { //nolint:forcetypeassert
		return nil
	}
	tx.startTimer(ctx, "L", tx.timings.TimeL())
	return nil
}

func (tx *InviteServerTransaction) actCompleted(ctx context.Context, args ...any) error {
	if !tx.sendRes(ctx, args[0].(*outgoingResponse)) { //nolint:forcetypeassert
		return nil
	}
	if !tx.reliable {
		tx.durG = tx.timings.TimeG()
		tx.startTimer(ctx, "G", tx.durG)
	}
	tx.startTimer(ctx, "H", tx.timings.TimeH())
	return nil
}

func (tx *InviteServerTransaction) actResendFinal(ctx context.Context, _ ...any) error {
	if !tx.send(ctx, tx.lastRes.data) {
		return nil
	}
	tx.durG = min(2*tx.durG, tx.timings.T2())
	tx.startTimer(ctx, "G", tx.durG)
	return nil
}

func (tx *InviteServerTransaction) actConfirmed(ctx context.Context, _ ...any) error {
	tx.stopTimer(ctx, "G")
	tx.stopTimer(ctx, "H")
	tx.startTimerOrFire(ctx, "I", unreliable(tx.reliable, tx.timings.TimeI()), txEvtTimerI)
	return nil
}

func (tx *InviteServerTransaction) actNoAck(ctx context.Context, _ ...any) error {
	tx.reportErr(ctx, ErrNoAck)
	return nil
}

func (tx *InviteServerTransaction) onTimer(ctx context.Context, name string) {
	switch name {
	case "G":
		tx.fire(ctx, txEvtTimerG)
	case "H":
		tx.fire(ctx, txEvtTimerH)
	case "I":
		tx.fire(ctx, txEvtTimerI)
	case "L":
		tx.fire(ctx, txEvtTimerL)
	case "provisional":
		tx.fire(ctx, txEvtTimerProv)
	}
}
