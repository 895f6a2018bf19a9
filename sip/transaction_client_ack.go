package sip

import (
	"context"

	"braces.dev/errtrace"
)

// AckClientTransaction sends the ACK of a 2xx response once.
// It is not kept in the transaction table, since nothing answers an ACK.
type AckClientTransaction struct {
	*clientTransact
}

// NewAckClientTransaction creates an ACK transaction.
// The request is sent by [AckClientTransaction.Start].
func (l *TransactionLayer) NewAckClientTransaction(
	ctx context.Context,
	req *OutgoingRequest,
	opts *ClientTransactionOptions,
) (*AckClientTransaction, error) {
	if req == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil request"))
	}
	if req.Method != RequestMethodAck {
		return nil, errtrace.Wrap(NewInvalidArgumentError(ErrMethodNotAllowed))
	}

	var tx *AckClientTransaction
	if err := l.exec.Do(ctx, func(context.Context) {
		tx = new(AckClientTransaction)
		tx.clientTransact = l.newClientTransact(TransactionTypeClientAck, tx, req, opts)
		tx.initFSM(TransactionStateTrying)
	}); err != nil {
		return nil, errtrace.Wrap(err)
	}
	return tx, nil
}

func (tx *AckClientTransaction) initFSM(start TransactionState) {
	tx.clientTransact.initFSM(start)

	tx.fsm.Configure(TransactionStateTrying).
		InternalTransition(txEvtSend, tx.actSendAck).
		Permit(txEvtTranspErr, TransactionStateTerminated).
		Permit(txEvtTerminate, TransactionStateTerminated)

	tx.fsm.Configure(TransactionStateTerminated).
		OnEntry(tx.actTerminated).
		OnEntryFrom(txEvtTranspErr, tx.actTranspErr).
		InternalTransition(txEvtTerminate, tx.actNoop)
}

// Start sends the ACK.
func (tx *AckClientTransaction) Start(ctx context.Context) error {
	return errtrace.Wrap(tx.start(ctx))
}

func (tx *AckClientTransaction) actSendAck(ctx context.Context, _ ...any) error {
	if tx.send(ctx, tx.req.String()) {
		tx.fire(ctx, txEvtTerminate)
	}
	return nil
}

func (*AckClientTransaction) onTimer(context.Context, string) {}
