package sip

import (
	"context"
	"log/slog"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipcore/internal/errorutil"
	"github.com/ghettovoice/sipcore/internal/serial"
)

// timerHandle refers to a running transaction timer.
// It is resolved through the transaction table, so a timer of a removed
// or replaced transaction resolves to nothing.
type timerHandle struct {
	kind   TransactionType
	branch string
	gen    uint64
	timer  string
	seq    uint64
}

// TransactionLayer holds the transaction table partitioned by transaction type
// and dispatches incoming messages and timer expiries to the transactions.
// All table access runs under the engine executor.
type TransactionLayer struct {
	exec         *serial.Executor
	tp           Transport
	reliable     bool
	timings      TimingConfig
	viaHost      string
	viaTransport string
	log          *slog.Logger
	stats        *StatsRecorder

	gen uint64
	txs map[TransactionType]map[string]transactImpl
}

type transactionLayerOptions struct {
	timings      TimingConfig
	viaHost      string
	viaTransport string
	log          *slog.Logger
	stats        *StatsRecorder
}

func newTransactionLayer(exec *serial.Executor, tp Transport, opts transactionLayerOptions) *TransactionLayer {
	return &TransactionLayer{
		exec:         exec,
		tp:           tp,
		reliable:     IsReliableTransport(tp),
		timings:      opts.timings,
		viaHost:      opts.viaHost,
		viaTransport: opts.viaTransport,
		log:          opts.log,
		stats:        opts.stats,
		txs: map[TransactionType]map[string]transactImpl{
			TransactionTypeClientInvite:    {},
			TransactionTypeClientNonInvite: {},
			TransactionTypeServerInvite:    {},
			TransactionTypeServerNonInvite: {},
		},
	}
}

func (l *TransactionLayer) nextGen() uint64 {
	l.gen++
	return l.gen
}

func (l *TransactionLayer) add(ctx context.Context, tx transactImpl) {
	l.txs[tx.Type()][tx.Branch()] = tx
	l.stats.transactionCreated(tx.Type())

	l.log.LogAttrs(ctx, slog.LevelDebug, "transaction created", slog.Any("transaction", tx))
}

func (l *TransactionLayer) remove(_ context.Context, tx transactImpl) {
	tbl := l.txs[tx.Type()]
	if cur, ok := tbl[tx.Branch()]; !ok || cur != tx {
		return
	}
	delete(tbl, tx.Branch())
	l.stats.transactionTerminated(tx.Type())
}

func (l *TransactionLayer) lookup(typ TransactionType, branch string) (transactImpl, bool) {
	tx, ok := l.txs[typ][branch]
	return tx, ok
}

// Lookup returns the transaction of the given type and branch from the table.
func (l *TransactionLayer) Lookup(ctx context.Context, typ TransactionType, branch string) (Transaction, bool) {
	var (
		tx Transaction
		ok bool
	)
	_ = l.exec.Do(ctx, func(context.Context) {
		tx, ok = l.lookup(typ, branch)
	})
	return tx, ok
}

// Len returns the number of transactions in the table.
func (l *TransactionLayer) Len(ctx context.Context) int {
	var n int
	_ = l.exec.Do(ctx, func(context.Context) {
		for _, tbl := range l.txs {
			n += len(tbl)
		}
	})
	return n
}

// fireTimer dispatches an expired timer under the executor.
func (l *TransactionLayer) fireTimer(h timerHandle) {
	_ = l.exec.Do(context.Background(), func(ctx context.Context) {
		tx, ok := l.lookup(h.kind, h.branch)
		if !ok || tx.base().gen != h.gen {
			return
		}
		tx.base().expire(ctx, h)
	})
}

func (l *TransactionLayer) sendRaw(ctx context.Context, data string) bool {
	if send(ctx, l.tp, l.log, data) {
		l.stats.messageSent()
		return true
	}
	return false
}

func (l *TransactionLayer) replySL(ctx context.Context, req *IncomingRequest, code int) {
	l.sendRaw(ctx, req.buildResponseSL(code, ""))
}

// newServerTransaction creates the server transaction of the request.
func (l *TransactionLayer) newServerTransaction(ctx context.Context, req *IncomingRequest) serverTransact {
	if req.Method == RequestMethodInvite {
		return l.newInviteServerTransaction(ctx, req)
	}
	tx := l.newNonInviteServerTransaction(ctx, req)
	req.srvTx = tx
	return tx
}

// checkTransaction reports whether the request belongs to an existing
// server transaction and must not be passed up.
func (l *TransactionLayer) checkTransaction(ctx context.Context, req *IncomingRequest) bool {
	switch req.Method {
	case RequestMethodInvite:
		tx, ok := l.lookup(TransactionTypeServerInvite, req.viaBranch)
		if !ok {
			return false
		}
		l.recvRetransmission(ctx, tx, req)
		return true
	case RequestMethodAck:
		tx, ok := l.lookup(TransactionTypeServerInvite, req.viaBranch)
		if !ok {
			return false
		}
		switch tx.State() {
		case TransactionStateAccepted:
			return false
		case TransactionStateCompleted, TransactionStateConfirmed:
			l.recvRetransmission(ctx, tx, req)
			return true
		default:
			return false
		}
	case RequestMethodCancel:
		tx, ok := l.lookup(TransactionTypeServerInvite, req.viaBranch)
		if !ok {
			l.replySL(ctx, req, 481)
			return true
		}
		l.replySL(ctx, req, 200)
		if tx.State() != TransactionStateProceeding {
			return true
		}

		ist := tx.(*InviteServerTransaction) //nolint:forcetypeassert
		if err := ist.respond(ctx, 487, ist.req.buildResponse(487, "", nil, nil)); err != nil {
			l.log.LogAttrs(ctx, slog.LevelWarn, "failed to reply 487 to canceled INVITE",
				slog.Any("transaction", tx),
				slog.Any("error", err),
			)
		}
		return false
	default:
		tx, ok := l.lookup(TransactionTypeServerNonInvite, req.viaBranch)
		if !ok {
			return false
		}
		l.recvRetransmission(ctx, tx, req)
		return true
	}
}

func (l *TransactionLayer) recvRetransmission(ctx context.Context, tx transactImpl, req *IncomingRequest) {
	srvTx, ok := tx.(serverTransact)
	if !ok {
		return
	}
	if err := srvTx.recvRequest(ctx, req); err != nil {
		l.log.LogAttrs(ctx, slog.LevelDebug, "retransmission ignored",
			slog.Any("transaction", tx),
			slog.Any("error", err),
		)
	}
}

// receiveResponse dispatches the response to its client transaction.
// It reports false when no transaction matches.
func (l *TransactionLayer) receiveResponse(ctx context.Context, res *IncomingResponse) bool {
	var typ TransactionType
	switch res.Method {
	case RequestMethodInvite:
		typ = TransactionTypeClientInvite
	case RequestMethodAck:
		return false
	default:
		typ = TransactionTypeClientNonInvite
	}

	tx, ok := l.lookup(typ, res.viaBranch)
	if !ok {
		return false
	}

	var err error
	switch clnTx := tx.(type) {
	case *InviteClientTransaction:
		err = clnTx.recvResponse(ctx, res)
	case *NonInviteClientTransaction:
		err = clnTx.recvResponse(ctx, res)
	}
	if err != nil {
		l.log.LogAttrs(ctx, slog.LevelDebug, "response ignored",
			slog.Any("transaction", tx),
			slog.Any("response", res),
			slog.Any("error", err),
		)
	}
	return true
}

// terminateAll terminates every transaction in the table.
func (l *TransactionLayer) terminateAll(ctx context.Context) error {
	var txs []transactImpl
	for _, tbl := range l.txs {
		for _, tx := range tbl {
			txs = append(txs, tx)
		}
	}

	var errs []error
	for _, tx := range txs {
		if err := tx.Terminate(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errtrace.Wrap(errorutil.JoinPrefix("terminate transactions:", errs...))
}
