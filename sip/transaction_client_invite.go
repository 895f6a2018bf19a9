package sip

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipcore/header"
)

// InviteClientTransaction is an INVITE client transaction.
// 2xx responses move it to ACCEPTED (RFC 6026), so forked 2xx retransmissions are passed up.
type InviteClientTransaction struct {
	*clientTransact

	durA         time.Duration
	ack          *OutgoingRequest
	canceled     bool
	cancelReason string
	cancelTx     *NonInviteClientTransaction
}

// NewInviteClientTransaction creates an INVITE client transaction and puts it into the table.
// The request is sent by [InviteClientTransaction.Start].
func (l *TransactionLayer) NewInviteClientTransaction(
	ctx context.Context,
	req *OutgoingRequest,
	opts *ClientTransactionOptions,
) (*InviteClientTransaction, error) {
	if req == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil request"))
	}
	if req.Method != RequestMethodInvite {
		return nil, errtrace.Wrap(NewInvalidArgumentError(ErrMethodNotAllowed))
	}

	var tx *InviteClientTransaction
	if err := l.exec.Do(ctx, func(ctx context.Context) {
		tx = new(InviteClientTransaction)
		tx.clientTransact = l.newClientTransact(TransactionTypeClientInvite, tx, req, opts)
		tx.initFSM(TransactionStateCalling)
		l.add(ctx, tx)
	}); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return tx, nil
}

const (
	txEvtTimerA = "timer_a"
	txEvtTimerB = "timer_b"
	txEvtTimerD = "timer_d"
	txEvtTimerM = "timer_m"
)

func (tx *InviteClientTransaction) initFSM(start TransactionState) {
	tx.clientTransact.initFSM(start)

	tx.fsm.Configure(TransactionStateCalling).
		OnExit(tx.actLeaveCalling).
		InternalTransition(txEvtSend, tx.actCalling).
		InternalTransition(txEvtTimerA, tx.actResend).
		Permit(txEvtRecv1xx, TransactionStateProceeding).
		Permit(txEvtRecv2xx, TransactionStateAccepted).
		Permit(txEvtRecv300699, TransactionStateCompleted).
		Permit(txEvtTimerB, TransactionStateTerminated).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateProceeding).
		OnEntryFrom(txEvtRecv1xx, tx.actProceeding).
		InternalTransition(txEvtRecv1xx, tx.actPassRes).
		Permit(txEvtRecv2xx, TransactionStateAccepted).
		Permit(txEvtRecv300699, TransactionStateCompleted).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateAccepted).
		OnEntryFrom(txEvtRecv2xx, tx.actAccepted).
		InternalTransition(txEvtRecv1xx, tx.actNoop).
		InternalTransition(txEvtRecv2xx, tx.actPassRes).
		InternalTransition(txEvtRecv300699, tx.actNoop).
		Permit(txEvtTimerM, TransactionStateTerminated).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateCompleted).
		OnEntryFrom(txEvtRecv300699, tx.actCompleted).
		InternalTransition(txEvtRecv1xx, tx.actNoop).
		InternalTransition(txEvtRecv2xx, tx.actNoop).
		InternalTransition(txEvtRecv300699, tx.actSendAck).
		Permit(txEvtTimerD, TransactionStateTerminated).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateTerminated).
		OnEntry(tx.actTerminated).
		OnEntryFrom(txEvtTimerB, tx.actTimedOut).
		OnEntryFrom(txEvtTranspErr, tx.actTranspErr).
		InternalTransition(txEvtTerminate, tx.actNoop)
}

// Start sends the INVITE and arms the timers.
func (tx *InviteClientTransaction) Start(ctx context.Context) error {
	return errtrace.Wrap(tx.start(ctx))
}

func (tx *InviteClientTransaction) actCalling(ctx context.Context, _ ...any) error {
	if !tx.send(ctx, tx.req.String()) {
		return nil
	}

	if !tx.reliable {
		tx.durA = tx.timings.TimeA()
		tx.startTimer(ctx, "A", tx.durA)
	}
	tx.startTimer(ctx, "B", tx.timings.TimeB())
	return nil
}

func (tx *InviteClientTransaction) actResend(ctx context.Context, _ ...any) error {
	if !tx.send(ctx, tx.req.String()) {
		return nil
	}

	tx.durA *= 2
	tx.startTimer(ctx, "A", tx.durA)
	return nil
}

func (tx *InviteClientTransaction) actLeaveCalling(ctx context.Context, _ ...any) error {
	tx.stopTimer(ctx, "A")
	tx.stopTimer(ctx, "B")
	return nil
}

func (tx *InviteClientTransaction) actProceeding(ctx context.Context, args ...any) error {
	tx.passUp(ctx, args[0].(*IncomingResponse)) //nolint:forcetypeassert

	if tx.canceled && tx.cancelTx == nil {
		tx.sendCancel(ctx)
	}
	return nil
}

func (tx *InviteClientTransaction) actAccepted(ctx context.Context, args ...any) error {
	tx.passUp(ctx, args[0].(*IncomingResponse)) //nolint:forcetypeassert
	tx.startTimer(ctx, "M", tx.timings.TimeM())
	return nil
}

func (tx *InviteClientTransaction) actCompleted(ctx context.Context, args ...any) error {
	res := args[0].(*IncomingResponse) //nolint:forcetypeassert
	tx.ack = newNon2xxAck(tx.req, res)

	tx.passUp(ctx, res)
	if !tx.send(ctx, tx.ack.String()) {
		return nil
	}

	tx.startTimerOrFire(ctx, "D", unreliable(tx.reliable, tx.timings.TimeD()), txEvtTimerD)
	return nil
}

func (tx *InviteClientTransaction) actSendAck(ctx context.Context, _ ...any) error {
	if tx.ack != nil {
		tx.send(ctx, tx.ack.String())
	}
	return nil
}

func (tx *InviteClientTransaction) onTimer(ctx context.Context, name string) {
	switch name {
	case "A":
		tx.fire(ctx, txEvtTimerA)
	case "B":
		tx.fire(ctx, txEvtTimerB)
	case "D":
		tx.fire(ctx, txEvtTimerD)
	case "M":
		tx.fire(ctx, txEvtTimerM)
	}
}

// Cancel cancels the INVITE.
// In PROCEEDING a CANCEL is sent at once, in CALLING it is deferred until
// the first provisional response. In other states Cancel does nothing.
// The reason, when not empty, is sent as the Reason header value.
func (tx *InviteClientTransaction) Cancel(ctx context.Context, reason string) error {
	return errtrace.Wrap(tx.layer.exec.Do(ctx, func(ctx context.Context) {
		switch tx.State() {
		case TransactionStateCalling:
			tx.canceled = true
			tx.cancelReason = reason
		case TransactionStateProceeding:
			if tx.cancelTx != nil {
				return
			}
			tx.canceled = true
			tx.cancelReason = reason
			tx.sendCancel(ctx)
		}
	}))
}

// IsCanceled reports whether the transaction was canceled.
func (tx *InviteClientTransaction) IsCanceled() bool { return tx.canceled }

func (tx *InviteClientTransaction) sendCancel(ctx context.Context) {
	cancelTx, err := tx.layer.NewNonInviteClientTransaction(ctx,
		newCancelRequest(tx.req, tx.cancelReason),
		&ClientTransactionOptions{Branch: tx.branch},
	)
	if err != nil {
		tx.log.LogAttrs(ctx, slog.LevelError, "failed to create CANCEL transaction",
			slog.Any("transaction", tx),
			slog.Any("error", err),
		)
		return
	}
	tx.cancelTx = cancelTx
	if err := cancelTx.Start(ctx); err != nil {
		tx.log.LogAttrs(ctx, slog.LevelWarn, "failed to send CANCEL",
			slog.Any("transaction", tx),
			slog.Any("error", err),
		)
	}
}

// newNon2xxAck builds the ACK of a non-2xx final response (RFC 3261 section 17.1.1.3).
func newNon2xxAck(inv *OutgoingRequest, res *IncomingResponse) *OutgoingRequest {
	ack := &OutgoingRequest{Method: RequestMethodAck, RURI: inv.RURI.Clone()}
	ack.hdrs.Add(header.NameVia, inv.hdrs.First(header.NameVia))
	for _, rt := range inv.hdrs.Values(header.NameRoute) {
		ack.hdrs.Add(header.NameRoute, rt)
	}
	ack.hdrs.Add(header.NameTo, res.hdrs.First(header.NameTo))
	ack.hdrs.Add(header.NameFrom, inv.hdrs.First(header.NameFrom))
	ack.hdrs.Add(header.NameCallID, inv.callID)
	cseq := header.CSeq{Seq: inv.cseq.Seq, Method: RequestMethodAck}
	ack.hdrs.addParsed(header.NameCSeq, cseq.String(), cseq)
	ack.hdrs.Add(header.NameMaxForwards, strconv.Itoa(MaxForwards))

	ack.callID = inv.callID
	ack.cseq = cseq
	ack.fromTag = inv.fromTag
	ack.toTag = res.toTag
	ack.viaBranch = inv.viaBranch
	return ack
}

// newCancelRequest builds the CANCEL of an INVITE (RFC 3261 section 9.1).
// Via is set by the transaction sending it.
func newCancelRequest(inv *OutgoingRequest, reason string) *OutgoingRequest {
	req := &OutgoingRequest{Method: RequestMethodCancel, RURI: inv.RURI.Clone()}
	for _, rt := range inv.hdrs.Values(header.NameRoute) {
		req.hdrs.Add(header.NameRoute, rt)
	}
	req.hdrs.Add(header.NameTo, inv.hdrs.First(header.NameTo))
	req.hdrs.Add(header.NameFrom, inv.hdrs.First(header.NameFrom))
	req.hdrs.Add(header.NameCallID, inv.callID)
	cseq := header.CSeq{Seq: inv.cseq.Seq, Method: RequestMethodCancel}
	req.hdrs.addParsed(header.NameCSeq, cseq.String(), cseq)
	req.hdrs.Add(header.NameMaxForwards, strconv.Itoa(MaxForwards))
	if reason != "" {
		req.hdrs.Add(header.NameReason, reason)
	}

	req.callID = inv.callID
	req.cseq = cseq
	req.fromTag = inv.fromTag
	req.toTag = inv.toTag
	return req
}
