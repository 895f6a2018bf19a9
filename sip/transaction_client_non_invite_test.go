package sip_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/ghettovoice/sipcore/sip"
	"github.com/ghettovoice/sipcore/uri"
)

func newTestRequest(tb testing.TB, eng *sip.Engine, method string) *sip.OutgoingRequest {
	tb.Helper()

	req, err := eng.NewRequest(method, uri.MustParse("sip:bob@example.com"), nil, nil, nil)
	if err != nil {
		tb.Fatalf("eng.NewRequest(%q) error = %v, want nil", method, err)
	}
	return req
}

func TestNonInviteClientTransaction_LifecycleUnrelTransp(t *testing.T) {
	t.Parallel()

	t1 := 5 * time.Millisecond
	timings := scaledTimings(t1)
	tp := newStubTransport(false)
	eng := newTestEngine(t, tp, timings)
	ctx := t.Context()

	tx, err := eng.Transactions().NewNonInviteClientTransaction(ctx, newTestRequest(t, eng, sip.RequestMethodOptions), nil)
	if err != nil {
		t.Fatalf("NewNonInviteClientTransaction() error = %v, want nil", err)
	}

	var codes []int
	tx.OnResponse(func(_ context.Context, _ sip.ClientTransaction, res *sip.IncomingResponse) {
		codes = append(codes, res.StatusCode)
	})

	if err := tx.Start(ctx); err != nil {
		t.Fatalf("tx.Start(ctx) error = %v, want nil", err)
	}
	if err := tx.Start(ctx); !errors.Is(err, sip.ErrInvalidArgument) {
		t.Fatalf("second tx.Start(ctx) error = %v, want %v", err, sip.ErrInvalidArgument)
	}

	sent := tp.waitSendReq(t, 100*time.Millisecond)
	if got, want := sent.Method, sip.RequestMethodOptions; got != want {
		t.Fatalf("sent.Method = %q, want %q", got, want)
	}
	if got, want := sent.ViaBranch(), tx.Branch(); got != want {
		t.Fatalf("sent.ViaBranch() = %q, want %q", got, want)
	}

	// timer E
	resent := tp.waitSendReq(t, 100*time.Millisecond)
	if got, want := resent.CSeq(), sent.CSeq(); got != want {
		t.Fatalf("retransmitted CSeq = %v, want %v", got, want)
	}

	reply(t, eng, sent, 180, "bob-tag")
	waitForTransactState(t, eng, tx, sip.TransactionStateProceeding, 50*time.Millisecond)

	reply(t, eng, sent, 200, "bob-tag")
	waitForTransactState(t, eng, tx, sip.TransactionStateCompleted, 50*time.Millisecond)
	tp.drainSends()

	// absorbed
	reply(t, eng, sent, 200, "bob-tag")

	waitForTransactState(t, eng, tx, sip.TransactionStateTerminated, timings.TimeK()+200*time.Millisecond)
	tp.ensureNoSend(t, 50*time.Millisecond)

	_ = eng.Do(ctx, func(context.Context) {
		if len(codes) != 2 || codes[0] != 180 || codes[1] != 200 {
			t.Errorf("passed up codes = %v, want [180 200]", codes)
		}
	})
	if _, ok := eng.Transactions().Lookup(ctx, sip.TransactionTypeClientNonInvite, tx.Branch()); ok {
		t.Fatal("terminated transaction is still in the table")
	}
}

func TestNonInviteClientTransaction_ReliableTerminatesOnFinal(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(true)
	eng := newTestEngine(t, tp, scaledTimings(5*time.Millisecond))
	ctx := t.Context()

	tx, err := eng.Transactions().NewNonInviteClientTransaction(ctx, newTestRequest(t, eng, sip.RequestMethodMessage), nil)
	if err != nil {
		t.Fatalf("NewNonInviteClientTransaction() error = %v, want nil", err)
	}
	if err := tx.Start(ctx); err != nil {
		t.Fatalf("tx.Start(ctx) error = %v, want nil", err)
	}
	sent := tp.waitSendReq(t, 100*time.Millisecond)
	// no retransmissions on reliable transports
	tp.ensureNoSend(t, 30*time.Millisecond)

	reply(t, eng, sent, 404, "bob-tag")
	waitForTransactState(t, eng, tx, sip.TransactionStateTerminated, 10*time.Millisecond)
}

func TestNonInviteClientTransaction_Timeout(t *testing.T) {
	t.Parallel()

	t1 := 2 * time.Millisecond
	timings := scaledTimings(t1)
	tp := newStubTransport(true)
	eng := newTestEngine(t, tp, timings)
	ctx := t.Context()

	tx, err := eng.Transactions().NewNonInviteClientTransaction(ctx, newTestRequest(t, eng, sip.RequestMethodInfo), nil)
	if err != nil {
		t.Fatalf("NewNonInviteClientTransaction() error = %v, want nil", err)
	}

	errCh := make(chan error, 1)
	tx.OnError(func(_ context.Context, _ sip.Transaction, err error) { errCh <- err })

	if err := tx.Start(ctx); err != nil {
		t.Fatalf("tx.Start(ctx) error = %v, want nil", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, sip.ErrTransactionTimedOut) {
			t.Fatalf("transaction error = %v, want %v", err, sip.ErrTransactionTimedOut)
		}
	case <-time.After(timings.TimeF() + 200*time.Millisecond):
		t.Fatal("timer F did not fire")
	}
	waitForTransactState(t, eng, tx, sip.TransactionStateTerminated, 50*time.Millisecond)
}

func TestNonInviteClientTransaction_408IsTimeout(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(true)
	eng := newTestEngine(t, tp, scaledTimings(5*time.Millisecond))
	ctx := t.Context()

	tx, err := eng.Transactions().NewNonInviteClientTransaction(ctx, newTestRequest(t, eng, sip.RequestMethodInfo), nil)
	if err != nil {
		t.Fatalf("NewNonInviteClientTransaction() error = %v, want nil", err)
	}

	var (
		gotErr   error
		passedUp bool
	)
	tx.OnError(func(_ context.Context, _ sip.Transaction, err error) { gotErr = err })
	tx.OnResponse(func(context.Context, sip.ClientTransaction, *sip.IncomingResponse) { passedUp = true })

	if err := tx.Start(ctx); err != nil {
		t.Fatalf("tx.Start(ctx) error = %v, want nil", err)
	}
	reply(t, eng, tp.waitSendReq(t, 100*time.Millisecond), 408, "bob-tag")

	_ = eng.Do(ctx, func(context.Context) {
		if !errors.Is(gotErr, sip.ErrTransactionTimedOut) {
			t.Errorf("transaction error = %v, want %v", gotErr, sip.ErrTransactionTimedOut)
		}
		if passedUp {
			t.Error("408 response was passed up")
		}
	})
}

func TestNonInviteClientTransaction_TransportFailure(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	tp := NewMockTransport(ctrl)
	tp.EXPECT().Send(gomock.Any()).Return(false).Times(1)

	eng := newTestEngine(t, tp, scaledTimings(5*time.Millisecond))
	ctx := t.Context()

	tx, err := eng.Transactions().NewNonInviteClientTransaction(ctx, newTestRequest(t, eng, sip.RequestMethodOptions), nil)
	if err != nil {
		t.Fatalf("NewNonInviteClientTransaction() error = %v, want nil", err)
	}

	var gotErr error
	tx.OnError(func(_ context.Context, _ sip.Transaction, err error) { gotErr = err })

	if err := tx.Start(ctx); !errors.Is(err, sip.ErrTransportFailure) {
		t.Fatalf("tx.Start(ctx) error = %v, want %v", err, sip.ErrTransportFailure)
	}
	if got, want := tx.State(), sip.TransactionStateTerminated; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
	if !errors.Is(gotErr, sip.ErrTransportFailure) {
		t.Fatalf("transaction error = %v, want %v", gotErr, sip.ErrTransportFailure)
	}
	if n := eng.Transactions().Len(ctx); n != 0 {
		t.Fatalf("eng.Transactions().Len() = %d, want 0", n)
	}
}

func TestNonInviteClientTransaction_RejectsInvite(t *testing.T) {
	t.Parallel()

	eng := newTestEngine(t, newStubTransport(true), sip.TimingConfig{})
	_, err := eng.Transactions().NewNonInviteClientTransaction(t.Context(), newTestRequest(t, eng, sip.RequestMethodInvite), nil)
	if !errors.Is(err, sip.ErrMethodNotAllowed) {
		t.Fatalf("NewNonInviteClientTransaction(INVITE) error = %v, want %v", err, sip.ErrMethodNotAllowed)
	}
}
