package sip

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
)

// ServerTransaction is a server transaction created for an incoming request.
type ServerTransaction interface {
	Transaction
	// Request returns the request that created the transaction.
	Request() *IncomingRequest
	// LastResponse returns the status code of the last sent response, or 0.
	LastResponse() int
}

// serverTransact is implemented by the server transactions.
type serverTransact interface {
	ServerTransaction
	respond(ctx context.Context, code int, data string) error
	recvRequest(ctx context.Context, req *IncomingRequest) error
}

const (
	txEvtSend1xx     = "send_1xx"
	txEvtSend2xx     = "send_2xx"
	txEvtSend300699  = "send_300-699"
	txEvtRecvRequest = "recv_request"
	txEvtRecvAck     = "recv_ack"
)

// outgoingResponse is a rendered response kept by a server transaction.
type outgoingResponse struct {
	code int
	data string
}

type srvTransact struct {
	*baseTransact
	req     *IncomingRequest
	lastRes *outgoingResponse
}

func (l *TransactionLayer) newSrvTransact(typ TransactionType, impl transactImpl, req *IncomingRequest) *srvTransact {
	return &srvTransact{
		baseTransact: newBaseTransact(typ, impl, req.viaBranch, l),
		req:          req,
	}
}

func (tx *srvTransact) initFSM(start TransactionState) {
	tx.baseTransact.initFSM(start)

	resType := reflect.TypeFor[*outgoingResponse]()
	tx.fsm.SetTriggerParameters(txEvtSend1xx, resType)
	tx.fsm.SetTriggerParameters(txEvtSend2xx, resType)
	tx.fsm.SetTriggerParameters(txEvtSend300699, resType)
}

// Request returns the request that created the transaction.
func (tx *srvTransact) Request() *IncomingRequest { return tx.req }

// LastResponse returns the status code of the last sent response, or 0.
func (tx *srvTransact) LastResponse() int {
	if tx.lastRes == nil {
		return 0
	}
	return tx.lastRes.code
}

// respond fires the send trigger of the response class.
// It must run under the engine executor.
func (tx *srvTransact) respond(ctx context.Context, code int, data string) error {
	var evt string
	switch {
	case code < 200:
		evt = txEvtSend1xx
	case code < 300:
		evt = txEvtSend2xx
	default:
		evt = txEvtSend300699
	}

	tx.err = nil
	if err := tx.fsm.FireCtx(ctx, evt, &outgoingResponse{code, data}); err != nil {
		return err //errtrace:skip
	}
	if errors.Is(tx.err, ErrTransportFailure) {
		return ErrTransportFailure //errtrace:skip
	}
	return nil
}

// recvRequest feeds a retransmission of the request matched by the transaction layer.
func (tx *srvTransact) recvRequest(ctx context.Context, req *IncomingRequest) error {
	evt := txEvtRecvRequest
	if req.Method == RequestMethodAck {
		evt = txEvtRecvAck
	}
	return tx.fsm.FireCtx(ctx, evt) //errtrace:skip
}

func (tx *srvTransact) actSendRes(ctx context.Context, args ...any) error {
	tx.sendRes(ctx, args[0].(*outgoingResponse)) //nolint:forcetypeassert
	return nil
}

func (tx *srvTransact) sendRes(ctx context.Context, res *outgoingResponse) bool {
	tx.lastRes = res

	tx.log.LogAttrs(ctx, slog.LevelDebug, "send response",
		slog.Any("transaction", tx.impl),
		slog.Int("status", res.code),
	)
	return tx.send(ctx, res.data)
}

func (tx *srvTransact) actResendLast(ctx context.Context, _ ...any) error {
	if tx.lastRes != nil {
		tx.send(ctx, tx.lastRes.data)
	}
	return nil
}
