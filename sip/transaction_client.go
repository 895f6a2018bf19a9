package sip

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"reflect"

	"github.com/ghettovoice/sipcore/header"
	"github.com/ghettovoice/sipcore/internal/types"
	"github.com/ghettovoice/sipcore/uri"
)

// ClientTransaction is a client transaction started by the local side.
type ClientTransaction interface {
	Transaction
	// Request returns the request sent by the transaction.
	Request() *OutgoingRequest
	// Start sends the request and arms the transaction timers.
	Start(ctx context.Context) error
	// OnResponse registers a callback called on each response passed up by the transaction.
	OnResponse(fn ClientResponseHandler) (cancel func())
}

type ClientResponseHandler = func(ctx context.Context, tx ClientTransaction, res *IncomingResponse)

// ClientTransactionOptions are options of a new client transaction.
type ClientTransactionOptions struct {
	// Branch overrides the generated Via branch.
	// CANCEL requests reuse the branch of the INVITE they cancel.
	Branch string
}

const (
	txEvtSend       = "send"
	txEvtRecv1xx    = "recv_1xx"
	txEvtRecv2xx    = "recv_2xx"
	txEvtRecv300699 = "recv_300-699"
)

type clientTransact struct {
	*baseTransact
	req     *OutgoingRequest
	onRes   types.CallbackManager[ClientResponseHandler]
	started bool
}

func (l *TransactionLayer) newClientTransact(
	typ TransactionType,
	impl transactImpl,
	req *OutgoingRequest,
	opts *ClientTransactionOptions,
) *clientTransact {
	var branch string
	if opts != nil {
		branch = opts.Branch
	}
	branch = cmp.Or(branch, newBranch())

	req.setVia(l.newVia(branch))
	return &clientTransact{
		baseTransact: newBaseTransact(typ, impl, branch, l),
		req:          req,
	}
}

func (l *TransactionLayer) newVia(branch string) *header.Via {
	return &header.Via{
		Proto:     "SIP",
		Version:   "2.0",
		Transport: l.viaTransport,
		Host:      l.viaHost,
		Params:    uri.Params{{Name: "branch", Value: branch, HasValue: true}},
	}
}

func (tx *clientTransact) initFSM(start TransactionState) {
	tx.baseTransact.initFSM(start)

	resType := reflect.TypeFor[*IncomingResponse]()
	tx.fsm.SetTriggerParameters(txEvtRecv1xx, resType)
	tx.fsm.SetTriggerParameters(txEvtRecv2xx, resType)
	tx.fsm.SetTriggerParameters(txEvtRecv300699, resType)
}

// Request returns the request sent by the transaction.
func (tx *clientTransact) Request() *OutgoingRequest { return tx.req }

// OnResponse registers a callback called on each response passed up by the transaction.
func (tx *clientTransact) OnResponse(fn ClientResponseHandler) (cancel func()) {
	return tx.onRes.Add(fn)
}

// start fires the send trigger and reports a transport failure of the first send.
func (tx *clientTransact) start(ctx context.Context) error {
	var err error
	if doErr := tx.layer.exec.Do(ctx, func(ctx context.Context) {
		if tx.started {
			err = NewInvalidArgumentError("transaction already started")
			return
		}
		tx.started = true
		if err = tx.fsm.FireCtx(ctx, txEvtSend); err != nil {
			return
		}
		if errors.Is(tx.err, ErrTransportFailure) {
			err = ErrTransportFailure
		}
	}); doErr != nil {
		return doErr //errtrace:skip
	}
	return err //errtrace:skip
}

// recvResponse feeds a response matched by the transaction layer.
func (tx *clientTransact) recvResponse(ctx context.Context, res *IncomingResponse) error {
	var evt string
	switch {
	case res.StatusCode < 200:
		evt = txEvtRecv1xx
	case res.StatusCode < 300:
		evt = txEvtRecv2xx
	default:
		evt = txEvtRecv300699
	}
	return tx.fsm.FireCtx(ctx, evt, res) //errtrace:skip
}

func (tx *clientTransact) passUp(ctx context.Context, res *IncomingResponse) {
	tx.log.LogAttrs(ctx, slog.LevelDebug, "pass response up",
		slog.Any("transaction", tx.impl),
		slog.Any("response", res),
	)

	ctx = ContextWithTransaction(ctx, tx.impl)
	clnTx, _ := tx.impl.(ClientTransaction)
	for fn := range tx.onRes.All() {
		fn(ctx, clnTx, res)
	}
}

func (tx *clientTransact) actPassRes(ctx context.Context, args ...any) error {
	tx.passUp(ctx, args[0].(*IncomingResponse)) //nolint:forcetypeassert
	return nil
}

func (tx *clientTransact) actSendReq(ctx context.Context, _ ...any) error {
	tx.send(ctx, tx.req.String())
	return nil
}
