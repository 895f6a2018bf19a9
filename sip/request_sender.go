package sip

import (
	"context"
	"errors"
	"log/slog"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipcore/digest"
	"github.com/ghettovoice/sipcore/header"
)

// RequestHandlers are the callbacks of a request sent by a [RequestSender].
// All of them are optional and run under the engine executor.
type RequestHandlers struct {
	// OnReceiveResponse is called for every response passed up,
	// including the final response of a re-sent authenticated request.
	OnReceiveResponse func(ctx context.Context, res *IncomingResponse)
	// OnRequestTimeout is called when the transaction timed out.
	OnRequestTimeout func(ctx context.Context)
	// OnTransportError is called when the request could not be sent.
	OnTransportError func(ctx context.Context)
	// OnAuthenticated is called with the new request before it is re-sent with credentials.
	OnAuthenticated func(ctx context.Context, req *OutgoingRequest)
}

// RequestSender sends one logical request. A 401 or 407 response is answered once
// with digest credentials, or once more when the new challenge is stale.
type RequestSender struct {
	eng   *Engine
	req   *OutgoingRequest
	hdlrs RequestHandlers
	log   *slog.Logger

	auth       *digest.Authenticator
	challenged bool
	staled     bool
	clnTx      ClientTransaction
}

// NewRequestSender creates a request sender.
func (e *Engine) NewRequestSender(req *OutgoingRequest, hdlrs *RequestHandlers) *RequestSender {
	s := &RequestSender{
		eng: e,
		req: req,
		log: e.log,
	}
	if hdlrs != nil {
		s.hdlrs = *hdlrs
	}
	return s
}

// Request returns the request currently sent.
func (s *RequestSender) Request() *OutgoingRequest { return s.req }

// Transaction returns the current client transaction, or nil before [RequestSender.Send].
func (s *RequestSender) Transaction() ClientTransaction { return s.clnTx }

// Send creates the client transaction matching the request method and starts it.
func (s *RequestSender) Send(ctx context.Context) error {
	if s.req == nil {
		return errtrace.Wrap(NewInvalidArgumentError("nil request"))
	}

	var err error
	if doErr := s.eng.do(ctx, func(ctx context.Context) {
		if s.eng.closed {
			err = ErrEngineClosed
			return
		}
		// digest credentials of a challenged request take the place of the bearer token
		if jwt := s.eng.opts.AuthorizationJWT; jwt != "" && !s.challenged {
			if err = s.req.SetHeader(header.NameAuthorization, "Bearer "+jwt); err != nil {
				return
			}
		}
		err = s.send(ctx)
	}); doErr != nil {
		return errtrace.Wrap(doErr)
	}
	return errtrace.Wrap(err)
}

func (s *RequestSender) send(ctx context.Context) error {
	var (
		tx  ClientTransaction
		err error
	)
	switch s.req.Method {
	case RequestMethodInvite:
		tx, err = s.eng.layer.NewInviteClientTransaction(ctx, s.req, nil)
	case RequestMethodAck:
		tx, err = s.eng.layer.NewAckClientTransaction(ctx, s.req, nil)
	default:
		tx, err = s.eng.layer.NewNonInviteClientTransaction(ctx, s.req, nil)
	}
	if err != nil {
		return errtrace.Wrap(err)
	}

	s.clnTx = tx
	tx.OnResponse(s.receiveResponse)
	tx.OnError(s.receiveError)
	return errtrace.Wrap(tx.Start(ctx))
}

// Cancel cancels the INVITE transaction of the sender.
func (s *RequestSender) Cancel(ctx context.Context, reason string) error {
	ict, ok := s.clnTx.(*InviteClientTransaction)
	if !ok {
		return errtrace.Wrap(NewInvalidArgumentError("no INVITE transaction to cancel"))
	}
	return errtrace.Wrap(ict.Cancel(ctx, reason))
}

func (s *RequestSender) receiveError(ctx context.Context, _ Transaction, err error) {
	switch {
	case errors.Is(err, ErrTransactionTimedOut):
		if s.hdlrs.OnRequestTimeout != nil {
			s.hdlrs.OnRequestTimeout(ctx)
		}
	case errors.Is(err, ErrTransportFailure):
		if s.hdlrs.OnTransportError != nil {
			s.hdlrs.OnTransportError(ctx)
		}
	}
}

func (s *RequestSender) receiveResponse(ctx context.Context, tx ClientTransaction, res *IncomingResponse) {
	if tx != s.clnTx {
		return
	}
	if (res.StatusCode == 401 || res.StatusCode == 407) && s.hasCredentials() && s.authenticate(ctx, res) {
		return
	}
	if s.hdlrs.OnReceiveResponse != nil {
		s.hdlrs.OnReceiveResponse(ctx, res)
	}
}

func (s *RequestSender) hasCredentials() bool {
	creds := s.eng.creds
	return creds.Password != "" || creds.HA1 != ""
}

// authenticate re-sends the request with credentials and reports whether it did.
func (s *RequestSender) authenticate(ctx context.Context, res *IncomingResponse) bool {
	chName, authzName := header.NameWWWAuthenticate, header.NameAuthorization
	if res.StatusCode == 407 {
		chName, authzName = header.NameProxyAuthenticate, header.NameProxyAuthz
	}

	ch, err := res.Challenge(chName)
	if err != nil {
		s.log.LogAttrs(ctx, slog.LevelWarn, "bad or missing authentication challenge",
			slog.Any("response", res),
			slog.Any("error", err),
		)
		return false
	}
	if s.challenged && (s.staled || !ch.Stale) {
		return false
	}

	if s.auth == nil {
		s.auth = digest.New(s.eng.creds)
	}
	if err := s.auth.Authenticate(s.req.Method, s.req.RURI.String(), s.req.body, ch, ""); err != nil {
		s.log.LogAttrs(ctx, slog.LevelWarn, "failed to authenticate request",
			slog.Any("request", s.req),
			slog.Any("error", err),
		)
		return false
	}
	authz, err := s.auth.Header()
	if err != nil {
		return false
	}

	s.challenged = true
	if ch.Stale {
		s.staled = true
	}
	s.eng.creds.Realm = s.auth.Realm()
	s.eng.creds.HA1 = s.auth.HA1()

	req := s.req.Clone()
	req.SetCSeq(req.cseq.Seq + 1)
	if err := req.SetHeader(authzName, authz); err != nil {
		return false
	}
	s.req = req

	if s.hdlrs.OnAuthenticated != nil {
		s.hdlrs.OnAuthenticated(ctx, req)
	}

	if err := s.send(ctx); err != nil {
		s.log.LogAttrs(ctx, slog.LevelWarn, "failed to send authenticated request",
			slog.Any("request", req),
			slog.Any("error", err),
		)
	}
	return true
}

// LogValue implements [slog.LogValuer].
func (s *RequestSender) LogValue() slog.Value {
	if s == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Any("request", s.req),
		slog.Bool("challenged", s.challenged),
		slog.Bool("staled", s.staled),
	)
}
