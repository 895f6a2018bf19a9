package sip_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ghettovoice/sipcore/digest"
	"github.com/ghettovoice/sipcore/header"
	"github.com/ghettovoice/sipcore/log"
	"github.com/ghettovoice/sipcore/sip"
	"github.com/ghettovoice/sipcore/uri"
)

func newAuthEngine(tb testing.TB, tp sip.Transport, jwt string) *sip.Engine {
	tb.Helper()

	eng, err := sip.NewEngine(tp, &sip.EngineOptions{
		URI:              uri.MustParse("sip:alice@example.com"),
		ViaHost:          testViaHost,
		CallIDPrefix:     "alice",
		Credentials:      digest.Credentials{Password: "secret"},
		AuthorizationJWT: jwt,
		Timings:          scaledTimings(5 * time.Millisecond),
		Logger:           log.Noop,
	})
	if err != nil {
		tb.Fatalf("sip.NewEngine() error = %v, want nil", err)
	}
	tb.Cleanup(func() { _ = eng.Close(context.Background()) })
	return eng
}

type responseRecorder struct {
	mu    sync.Mutex
	codes []int
}

func (r *responseRecorder) record(_ context.Context, res *sip.IncomingResponse) {
	r.mu.Lock()
	r.codes = append(r.codes, res.StatusCode)
	r.mu.Unlock()
}

func (r *responseRecorder) get() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.codes...)
}

func (r *responseRecorder) wait(tb testing.TB, n int, timeout time.Duration) []int {
	tb.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if codes := r.get(); len(codes) >= n {
			return codes
		}
		time.Sleep(2 * time.Millisecond)
	}
	tb.Fatalf("got %v responses, want %d", r.get(), n)
	return nil
}

const wwwAuth = `WWW-Authenticate: Digest realm="example.com", nonce="n1", qop="auth"`

func TestRequestSender_DigestAuth(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(true)
	eng := newAuthEngine(t, tp, "")

	var (
		rec    responseRecorder
		authed *sip.OutgoingRequest
	)
	req := newTestRequest(t, eng, sip.RequestMethodRegister)
	s, err := eng.SendRequest(t.Context(), req, &sip.RequestHandlers{
		OnReceiveResponse: rec.record,
		OnAuthenticated:   func(_ context.Context, r *sip.OutgoingRequest) { authed = r },
	})
	if err != nil {
		t.Fatalf("eng.SendRequest() error = %v, want nil", err)
	}

	first := tp.waitSendReq(t, time.Second)
	reply(t, eng, first, 401, "reg-tag", wwwAuth)

	second := tp.waitSendReq(t, time.Second)
	if got, want := second.CSeq().Seq, first.CSeq().Seq+1; got != want {
		t.Errorf("authenticated CSeq = %d, want %d", got, want)
	}
	if second.CallID() != first.CallID() {
		t.Errorf("authenticated Call-ID = %q, want %q", second.CallID(), first.CallID())
	}
	if second.ViaBranch() == first.ViaBranch() {
		t.Error("authenticated request reuses the branch")
	}
	authz := second.Headers().First(header.NameAuthorization)
	for _, want := range []string{`username="alice"`, `realm="example.com"`, `nonce="n1"`, "qop=auth", "nc=00000001"} {
		if !strings.Contains(authz, want) {
			t.Errorf("Authorization = %q, want it to contain %q", authz, want)
		}
	}
	if authed == nil || s.Request() != authed {
		t.Errorf("OnAuthenticated request = %v, want the current sender request", authed)
	}

	reply(t, eng, second, 200, "reg-tag")
	if codes := rec.wait(t, 1, time.Second); codes[0] != 200 {
		t.Fatalf("passed up responses = %v, want [200]", codes)
	}
}

func TestRequestSender_SecondChallengePassedUp(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(true)
	eng := newAuthEngine(t, tp, "")

	var rec responseRecorder
	req := newTestRequest(t, eng, sip.RequestMethodOptions)
	if _, err := eng.SendRequest(t.Context(), req, &sip.RequestHandlers{OnReceiveResponse: rec.record}); err != nil {
		t.Fatalf("eng.SendRequest() error = %v, want nil", err)
	}

	first := tp.waitSendReq(t, time.Second)
	reply(t, eng, first, 407, "", strings.Replace(wwwAuth, "WWW-Authenticate", "Proxy-Authenticate", 1))

	second := tp.waitSendReq(t, time.Second)
	if !second.Headers().Has(header.NameProxyAuthz) {
		t.Fatalf("re-sent request has no Proxy-Authorization:\n%s", second)
	}
	reply(t, eng, second, 407, "", strings.Replace(wwwAuth, "WWW-Authenticate", "Proxy-Authenticate", 1))

	if codes := rec.wait(t, 1, time.Second); codes[0] != 407 {
		t.Fatalf("passed up responses = %v, want [407]", codes)
	}
	tp.ensureNoSend(t, 50*time.Millisecond)
}

func TestRequestSender_StaleChallenge(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(true)
	eng := newAuthEngine(t, tp, "")

	var rec responseRecorder
	req := newTestRequest(t, eng, sip.RequestMethodOptions)
	if _, err := eng.SendRequest(t.Context(), req, &sip.RequestHandlers{OnReceiveResponse: rec.record}); err != nil {
		t.Fatalf("eng.SendRequest() error = %v, want nil", err)
	}

	first := tp.waitSendReq(t, time.Second)
	reply(t, eng, first, 401, "", wwwAuth)
	second := tp.waitSendReq(t, time.Second)

	reply(t, eng, second, 401, "", wwwAuth+", stale=true")
	third := tp.waitSendReq(t, time.Second)
	if got, want := third.CSeq().Seq, second.CSeq().Seq+1; got != want {
		t.Errorf("third CSeq = %d, want %d", got, want)
	}
	if authz := third.Headers().First(header.NameAuthorization); !strings.Contains(authz, "nc=00000002") {
		t.Errorf("Authorization = %q, want nc=00000002", authz)
	}

	reply(t, eng, third, 401, "", wwwAuth+", stale=true")
	if codes := rec.wait(t, 1, time.Second); codes[0] != 401 {
		t.Fatalf("passed up responses = %v, want [401]", codes)
	}
	tp.ensureNoSend(t, 50*time.Millisecond)
}

func TestRequestSender_BearerAuthorization(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(true)
	eng := newAuthEngine(t, tp, "token-123")

	req := newTestRequest(t, eng, sip.RequestMethodMessage)
	if _, err := eng.SendRequest(t.Context(), req, nil); err != nil {
		t.Fatalf("eng.SendRequest() error = %v, want nil", err)
	}
	sent := tp.waitSendReq(t, time.Second)
	if got, want := sent.Headers().First(header.NameAuthorization), "Bearer token-123"; got != want {
		t.Fatalf("Authorization = %q, want %q", got, want)
	}
}

func TestRequestSender_BearerReplacedByDigest(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(true)
	eng := newAuthEngine(t, tp, "token-123")

	req := newTestRequest(t, eng, sip.RequestMethodRegister)
	if _, err := eng.SendRequest(t.Context(), req, nil); err != nil {
		t.Fatalf("eng.SendRequest() error = %v, want nil", err)
	}

	first := tp.waitSendReq(t, time.Second)
	if got, want := first.Headers().First(header.NameAuthorization), "Bearer token-123"; got != want {
		t.Fatalf("first Authorization = %q, want %q", got, want)
	}
	reply(t, eng, first, 401, "reg-tag", wwwAuth)

	second := tp.waitSendReq(t, time.Second)
	if got := second.Headers().Count(header.NameAuthorization); got != 1 {
		t.Fatalf("re-sent Authorization count = %d, want 1", got)
	}
	authz := second.Headers().First(header.NameAuthorization)
	if !strings.HasPrefix(authz, "Digest ") {
		t.Fatalf("re-sent Authorization = %q, want Digest credentials", authz)
	}
	if !strings.Contains(authz, `nonce="n1"`) {
		t.Errorf("re-sent Authorization = %q, want it to contain %q", authz, `nonce="n1"`)
	}
}

func TestRequestSender_TransportError(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(true)
	tp.setFail(true)
	eng := newTestEngine(t, tp, scaledTimings(5*time.Millisecond))

	failed := make(chan struct{})
	req := newTestRequest(t, eng, sip.RequestMethodOptions)
	_, _ = eng.SendRequest(t.Context(), req, &sip.RequestHandlers{
		OnTransportError: func(context.Context) { close(failed) },
	})
	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("OnTransportError was not called")
	}
}
