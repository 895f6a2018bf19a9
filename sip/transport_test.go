package sip_test

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ghettovoice/sipcore/log"
	"github.com/ghettovoice/sipcore/sip"
	"github.com/ghettovoice/sipcore/uri"
)

// stubTransport records sent messages and can be switched to fail.
type stubTransport struct {
	rel bool

	mu     sync.Mutex
	fail   bool
	sent   [][]byte
	sendCh chan []byte
}

func newStubTransport(rel bool) *stubTransport {
	return &stubTransport{
		rel:    rel,
		sendCh: make(chan []byte, 256),
	}
}

func (st *stubTransport) Send(data []byte) bool {
	st.mu.Lock()
	if st.fail {
		st.mu.Unlock()
		return false
	}
	data = slices.Clone(data)
	st.sent = append(st.sent, data)
	st.mu.Unlock()

	st.sendCh <- data
	return true
}

func (st *stubTransport) Reliable() bool { return st.rel }

func (st *stubTransport) setFail(fail bool) {
	st.mu.Lock()
	st.fail = fail
	st.mu.Unlock()
}

func (st *stubTransport) sentCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sent)
}

// waitSend waits for a message to be sent and returns it parsed.
func (st *stubTransport) waitSend(tb testing.TB, timeout time.Duration) sip.Message {
	tb.Helper()
	select {
	case data := <-st.sendCh:
		msg, err := sip.Parse(data)
		if err != nil {
			tb.Fatalf("sip.Parse(sent) error = %v, want nil\n%s", err, data)
		}
		return msg
	case <-time.After(timeout):
		tb.Fatalf("expected send within %v", timeout)
		return nil
	}
}

// waitSendReq waits for a request to be sent.
func (st *stubTransport) waitSendReq(tb testing.TB, timeout time.Duration) *sip.IncomingRequest {
	tb.Helper()
	msg := st.waitSend(tb, timeout)
	req, ok := msg.(*sip.IncomingRequest)
	if !ok {
		tb.Fatalf("sent message = %T, want request\n%s", msg, msg)
	}
	return req
}

// waitSendRes waits for a response to be sent.
func (st *stubTransport) waitSendRes(tb testing.TB, timeout time.Duration) *sip.IncomingResponse {
	tb.Helper()
	msg := st.waitSend(tb, timeout)
	res, ok := msg.(*sip.IncomingResponse)
	if !ok {
		tb.Fatalf("sent message = %T, want response\n%s", msg, msg)
	}
	return res
}

// ensureNoSend asserts nothing is sent within timeout.
func (st *stubTransport) ensureNoSend(tb testing.TB, timeout time.Duration) {
	tb.Helper()
	select {
	case data := <-st.sendCh:
		tb.Fatalf("unexpected send:\n%s", data)
	case <-time.After(timeout):
	}
}

// drainSends drains all pending sends.
func (st *stubTransport) drainSends() {
	for {
		select {
		case <-st.sendCh:
		default:
			return
		}
	}
}

const testViaHost = "alice.invalid"

func newTestEngine(tb testing.TB, tp sip.Transport, timings sip.TimingConfig) *sip.Engine {
	tb.Helper()

	eng, err := sip.NewEngine(tp, &sip.EngineOptions{
		URI:          uri.MustParse("sip:alice@example.com"),
		DisplayName:  "Alice",
		ViaHost:      testViaHost,
		CallIDPrefix: "alice",
		Timings:      timings,
		Logger:       log.Noop,
	})
	if err != nil {
		tb.Fatalf("sip.NewEngine() error = %v, want nil", err)
	}
	tb.Cleanup(func() {
		if err := eng.Close(context.Background()); err != nil {
			tb.Errorf("eng.Close() error = %v, want nil", err)
		}
	})
	return eng
}

// feed delivers raw data to the engine.
func feed(tb testing.TB, eng *sip.Engine, data []byte) {
	tb.Helper()
	if err := eng.OnData(tb.Context(), data); err != nil {
		tb.Fatalf("eng.OnData() error = %v, want nil\n%s", err, data)
	}
}

// reply feeds a response to a request captured from the wire.
func reply(tb testing.TB, eng *sip.Engine, req *sip.IncomingRequest, code int, toTag string, extra ...string) {
	tb.Helper()
	feed(tb, eng, sip.ResponseTo(req, code, toTag, extra, nil))
}

//nolint:unparam
func waitForTransactState(tb testing.TB, eng *sip.Engine, tx sip.Transaction, want sip.TransactionState, timeout time.Duration) {
	tb.Helper()

	getState := func() sip.TransactionState {
		var state sip.TransactionState
		_ = eng.Do(tb.Context(), func(context.Context) { state = tx.State() })
		return state
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if getState() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	tb.Fatalf("transaction state did not reach %q, got %q", want, getState())
}
