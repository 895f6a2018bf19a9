package sip_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ghettovoice/sipcore/sip"
)

// receive feeds a request and returns it as passed up to the request handler.
func receive(tb testing.TB, eng *sip.Engine, raw rawRequest) *sip.IncomingRequest {
	tb.Helper()

	var got *sip.IncomingRequest
	cancel := eng.OnRequest(func(_ context.Context, req *sip.IncomingRequest) { got = req })
	defer cancel()

	feed(tb, eng, raw.Bytes())
	if got == nil {
		tb.Fatalf("%s request was not passed up", raw.Method)
	}
	return got
}

func serverTx(tb testing.TB, req *sip.IncomingRequest) sip.Transaction {
	tb.Helper()

	tx, ok := req.Transaction()
	if !ok {
		tb.Fatalf("%s request has no server transaction", req.Method)
	}
	return tx
}

func TestNonInviteServerTransaction_LifecycleUnrelTransp(t *testing.T) {
	t.Parallel()

	t1 := 5 * time.Millisecond
	timings := scaledTimings(t1)
	tp := newStubTransport(false)
	eng := newTestEngine(t, tp, timings)
	ctx := t.Context()

	raw := rawRequest{Method: sip.RequestMethodInfo, Branch: sip.MagicCookie + ".unreliable"}
	req := receive(t, eng, raw)
	tx := serverTx(t, req)
	if got, want := tx.State(), sip.TransactionStateTrying; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	// absorbed in TRYING
	feed(t, eng, raw.Bytes())
	tp.ensureNoSend(t, 10*time.Millisecond)

	if err := req.Reply(ctx, 180, "", nil, nil); err != nil {
		t.Fatalf("req.Reply(ctx, 180) error = %v, want nil", err)
	}
	if res := tp.waitSendRes(t, 100*time.Millisecond); res.StatusCode != 180 {
		t.Fatalf("sent status = %d, want 180", res.StatusCode)
	}
	if got, want := tx.State(), sip.TransactionStateProceeding; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	feed(t, eng, raw.Bytes())
	if res := tp.waitSendRes(t, 100*time.Millisecond); res.StatusCode != 180 {
		t.Fatalf("re-sent status = %d, want 180", res.StatusCode)
	}

	if err := req.Reply(ctx, 200, "", nil, nil); err != nil {
		t.Fatalf("req.Reply(ctx, 200) error = %v, want nil", err)
	}
	res := tp.waitSendRes(t, 100*time.Millisecond)
	if res.StatusCode != 200 {
		t.Fatalf("sent status = %d, want 200", res.StatusCode)
	}
	if res.ToTag() == "" || res.ToTag() != req.LocalTag() {
		t.Fatalf("res.ToTag() = %q, want %q", res.ToTag(), req.LocalTag())
	}
	if got, want := tx.State(), sip.TransactionStateCompleted; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}

	feed(t, eng, raw.Bytes())
	if res := tp.waitSendRes(t, 100*time.Millisecond); res.StatusCode != 200 {
		t.Fatalf("re-sent status = %d, want 200", res.StatusCode)
	}

	if err := req.Reply(ctx, 100, "", nil, nil); !errors.Is(err, sip.ErrActionNotAllowed) {
		t.Fatalf("req.Reply(ctx, 100) error = %v, want %v", err, sip.ErrActionNotAllowed)
	}
	// a later final response is ignored
	if err := req.Reply(ctx, 200, "", nil, nil); err != nil {
		t.Fatalf("req.Reply(ctx, 200) error = %v, want nil", err)
	}
	tp.ensureNoSend(t, 10*time.Millisecond)

	waitForTransactState(t, eng, tx, sip.TransactionStateTerminated, timings.TimeJ()+200*time.Millisecond)
}

func TestNonInviteServerTransaction_ReliableTerminatesOnFinal(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(true)
	eng := newTestEngine(t, tp, sip.TimingConfig{})
	ctx := t.Context()

	req := receive(t, eng, rawRequest{Method: sip.RequestMethodMessage, Body: "hello"})
	tx := serverTx(t, req)
	if got, want := string(req.Body()), "hello"; got != want {
		t.Fatalf("req.Body() = %q, want %q", got, want)
	}

	if err := req.Reply(ctx, 202, "", nil, nil); err != nil {
		t.Fatalf("req.Reply(ctx, 202) error = %v, want nil", err)
	}
	tp.waitSendRes(t, 100*time.Millisecond)
	if got, want := tx.State(), sip.TransactionStateTerminated; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
}

func TestIncomingRequest_ReplyInvalidStatus(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(true)
	eng := newTestEngine(t, tp, sip.TimingConfig{})
	ctx := t.Context()

	req := receive(t, eng, rawRequest{Method: sip.RequestMethodInfo})
	for _, code := range []int{0, 99, 700} {
		if err := req.Reply(ctx, code, "", nil, nil); !errors.Is(err, sip.ErrInvalidArgument) {
			t.Fatalf("req.Reply(ctx, %d) error = %v, want %v", code, err, sip.ErrInvalidArgument)
		}
	}
	if err := req.Reply(ctx, 200, "OK\r\nX-Evil: 1", nil, nil); !errors.Is(err, sip.ErrInvalidArgument) {
		t.Fatalf("req.Reply(ctx, 200, bad reason) error = %v, want %v", err, sip.ErrInvalidArgument)
	}
	tp.ensureNoSend(t, 10*time.Millisecond)
	if got, want := serverTx(t, req).State(), sip.TransactionStateTrying; got != want {
		t.Fatalf("tx.State() = %q, want %q", got, want)
	}
}
