package sip

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ghettovoice/sipcore/header"
	"github.com/ghettovoice/sipcore/internal/util"
)

// checkRequest runs the sanity checks of an incoming request.
// A failed check replies statelessly and reports false.
func (e *Engine) checkRequest(ctx context.Context, req *IncomingRequest) bool {
	var code int
	switch {
	case !req.RURI.IsSIP():
		code = 416
	case !e.checkContentLength(&req.message):
		code = 400
	case req.toTag == "" && strings.HasPrefix(req.callID, e.opts.CallIDPrefix):
		// own request looped back
		code = 482
	case req.toTag == "" && e.layer.isMerged(req):
		code = 482
	default:
		return true
	}

	e.stats.messageDropped()
	e.log.LogAttrs(ctx, slog.LevelWarn, "request failed sanity check",
		slog.Any("request", req),
		slog.Int("code", code),
	)
	if req.Method != RequestMethodAck {
		e.layer.replySL(ctx, req, code)
	}
	return false
}

// checkResponse runs the sanity checks of an incoming response.
// A failed response is dropped.
func (e *Engine) checkResponse(ctx context.Context, res *IncomingResponse) bool {
	var reason string
	if n := res.hdrs.Count(header.NameVia); n > 1 {
		reason = "more than one Via"
	} else if via, err := res.TopVia(); err != nil || !util.EqFold(via.Host, e.opts.ViaHost) {
		reason = "Via host mismatch"
	} else if !e.checkContentLength(&res.message) {
		reason = "Content-Length mismatch"
	}
	if reason == "" {
		return true
	}

	e.stats.messageDropped()
	e.log.LogAttrs(ctx, slog.LevelWarn, "response failed sanity check",
		slog.Any("response", res),
		slog.String("reason", reason),
	)
	return false
}

func (*Engine) checkContentLength(m *message) bool {
	cl, ok := m.ContentLength()
	return !ok || len(m.body) >= cl
}

// isMerged reports whether the request was already received with another branch,
// RFC 3261 section 8.2.2.2.
func (l *TransactionLayer) isMerged(req *IncomingRequest) bool {
	for _, typ := range []TransactionType{TransactionTypeServerInvite, TransactionTypeServerNonInvite} {
		for branch, tx := range l.txs[typ] {
			if branch == req.viaBranch {
				continue
			}
			srvTx, ok := tx.(serverTransact)
			if !ok {
				continue
			}
			r := srvTx.Request()
			if r.fromTag == req.fromTag && r.callID == req.callID && r.cseq.Seq == req.cseq.Seq {
				return true
			}
		}
	}
	return false
}
