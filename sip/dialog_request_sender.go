package sip

import (
	"context"
	"log/slog"
	"time"

	"github.com/ghettovoice/sipcore/internal/util"
)

// DialogRequestHandlers are the callbacks of an in-dialog request.
// All of them are optional and run under the engine executor.
type DialogRequestHandlers struct {
	OnProvisionalResponse func(ctx context.Context, res *IncomingResponse)
	OnSuccessResponse     func(ctx context.Context, res *IncomingResponse)
	OnErrorResponse       func(ctx context.Context, res *IncomingResponse)
	OnRequestTimeout      func(ctx context.Context)
	OnTransportError      func(ctx context.Context)
	// OnDialogError is called on 408 and 481 responses, the dialog is gone at the remote side.
	OnDialogError func(ctx context.Context, res *IncomingResponse)
}

// DialogRequestSender sends a request within a dialog.
type DialogRequestSender struct {
	dlg       *Dialog
	req       *OutgoingRequest
	hdlrs     DialogRequestHandlers
	sender    *RequestSender
	reattempt bool
	log       *slog.Logger
}

func (d *Dialog) newRequestSender(req *OutgoingRequest, hdlrs DialogRequestHandlers) *DialogRequestSender {
	s := &DialogRequestSender{
		dlg:   d,
		req:   req,
		hdlrs: hdlrs,
		log:   d.log,
	}
	s.sender = d.eng.NewRequestSender(req, &RequestHandlers{
		OnReceiveResponse: s.receiveResponse,
		OnRequestTimeout: func(ctx context.Context) {
			if s.hdlrs.OnRequestTimeout != nil {
				s.hdlrs.OnRequestTimeout(ctx)
			}
		},
		OnTransportError: func(ctx context.Context) {
			if s.hdlrs.OnTransportError != nil {
				s.hdlrs.OnTransportError(ctx)
			}
		},
		OnAuthenticated: func(_ context.Context, req *OutgoingRequest) {
			d.localSeq++
			req.SetCSeq(d.localSeq)
			s.req = req
		},
	})
	return s
}

// Request returns the request currently sent.
func (s *DialogRequestSender) Request() *OutgoingRequest { return s.sender.Request() }

// Transaction returns the current client transaction.
func (s *DialogRequestSender) Transaction() ClientTransaction { return s.sender.Transaction() }

// Cancel cancels the INVITE transaction of the sender.
func (s *DialogRequestSender) Cancel(ctx context.Context, reason string) error {
	return s.sender.Cancel(ctx, reason) //errtrace:skip
}

func (s *DialogRequestSender) send(ctx context.Context) error {
	if err := s.sender.send(ctx); err != nil {
		return err //errtrace:skip
	}

	if !isOffer(s.req.Method, s.req.body) {
		return nil
	}
	tx := s.sender.Transaction()
	if tx == nil || tx.State() == TransactionStateTerminated {
		return nil
	}
	d := s.dlg
	d.uacPendingReply = true
	var cancel func()
	cancel = tx.OnStateChanged(func(_ context.Context, _ Transaction, _, to TransactionState) {
		if to == TransactionStateAccepted || to == TransactionStateCompleted || to == TransactionStateTerminated {
			cancel()
			d.uacPendingReply = false
		}
	})
	return nil
}

func (s *DialogRequestSender) receiveResponse(ctx context.Context, res *IncomingResponse) {
	switch {
	case res.StatusCode == 408 || res.StatusCode == 481:
		if s.hdlrs.OnDialogError != nil {
			s.hdlrs.OnDialogError(ctx, res)
		}
	case res.StatusCode == 491 && s.req.Method == RequestMethodInvite:
		if s.reattempt {
			s.onResponse(ctx, res)
			return
		}
		s.reattempt = true
		s.scheduleRetry(ctx)
	default:
		s.onResponse(ctx, res)
	}
}

func (s *DialogRequestSender) onResponse(ctx context.Context, res *IncomingResponse) {
	var fn func(context.Context, *IncomingResponse)
	switch {
	case res.IsProvisional():
		fn = s.hdlrs.OnProvisionalResponse
	case res.IsSuccessful():
		fn = s.hdlrs.OnSuccessResponse
	default:
		fn = s.hdlrs.OnErrorResponse
	}
	if fn != nil {
		fn(ctx, res)
	}
}

// glareRetryDelay returns a random delay of RFC 3261 section 14.1.
func glareRetryDelay(role DialogRole) time.Duration {
	if role == DialogRoleUAC {
		return time.Duration(util.RandInt(2100, 4000)) * time.Millisecond
	}
	return time.Duration(util.RandInt(0, 2000)) * time.Millisecond
}

func (s *DialogRequestSender) scheduleRetry(ctx context.Context) {
	d := s.dlg
	delay := glareRetryDelay(d.role)

	s.log.LogAttrs(ctx, slog.LevelDebug, "request glare, retry scheduled",
		slog.Any("dialog", d),
		slog.Duration("delay", delay),
	)

	d.startTimer(delay, func(ctx context.Context) {
		if d.State() == DialogStateTerminated {
			return
		}
		d.localSeq++
		req := s.req.Clone()
		req.SetCSeq(d.localSeq)
		s.req = req
		s.sender.req = req
		if err := s.send(ctx); err != nil {
			s.log.LogAttrs(ctx, slog.LevelWarn, "failed to retry request after glare",
				slog.Any("dialog", d),
				slog.Any("error", err),
			)
		}
	})
}

// LogValue implements [slog.LogValuer].
func (s *DialogRequestSender) LogValue() slog.Value {
	if s == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("dialog", s.dlg.id.String()),
		slog.Any("request", s.req),
		slog.Bool("reattempt", s.reattempt),
	)
}
