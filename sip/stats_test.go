package sip_test

import (
	"testing"
	"time"

	"github.com/ghettovoice/sipcore/sip"
)

func TestStatsRecorder_Report(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(true)
	eng := newTestEngine(t, tp, scaledTimings(5*time.Millisecond))

	feed(t, eng, rawRequest{Method: sip.RequestMethodOptions, Branch: sip.MagicCookie + "st1"}.Bytes())
	if res := tp.waitSendRes(t, time.Second); res.StatusCode != 200 {
		t.Fatalf("res.StatusCode = %d, want 200", res.StatusCode)
	}

	// no transaction matches the response
	feed(t, eng, []byte("SIP/2.0 200 OK\r\n"+
		"Via: SIP/2.0/WS "+testViaHost+";branch="+sip.MagicCookie+"unknown\r\n"+
		"To: <sip:bob@example.com>;tag=1\r\n"+
		"From: <sip:alice@example.com>;tag=2\r\n"+
		"Call-ID: x\r\n"+
		"CSeq: 1 OPTIONS\r\n"+
		"Content-Length: 0\r\n\r\n"))

	if err := eng.OnData(t.Context(), []byte("garbage")); err == nil {
		t.Fatal("eng.OnData(garbage) error = nil, want error")
	}

	rep := eng.Stats()
	if got, want := rep.Messages.RequestsReceived, uint64(1); got != want {
		t.Errorf("RequestsReceived = %d, want %d", got, want)
	}
	if got, want := rep.Messages.ResponsesReceived, uint64(1); got != want {
		t.Errorf("ResponsesReceived = %d, want %d", got, want)
	}
	if got, want := rep.Messages.Sent, uint64(1); got != want {
		t.Errorf("Sent = %d, want %d", got, want)
	}
	if got, want := rep.Messages.Dropped, uint64(2); got != want {
		t.Errorf("Dropped = %d, want %d", got, want)
	}
	if got, want := rep.Transactions.NonInviteServerTransactionsTotal, uint64(1); got != want {
		t.Errorf("NonInviteServerTransactionsTotal = %d, want %d", got, want)
	}
	if rep.Time.IsZero() {
		t.Error("rep.Time is zero")
	}
}

func TestStatsRecorder_ActiveTransactions(t *testing.T) {
	t.Parallel()

	tp := newStubTransport(true)
	eng := newTestEngine(t, tp, scaledTimings(5*time.Millisecond))

	req := newTestRequest(t, eng, sip.RequestMethodInvite)
	s, err := eng.SendRequest(t.Context(), req, nil)
	if err != nil {
		t.Fatalf("eng.SendRequest() error = %v, want nil", err)
	}
	sent := tp.waitSendReq(t, time.Second)

	rep := eng.Stats()
	if got, want := rep.Transactions.InviteClientTransactions, uint64(1); got != want {
		t.Fatalf("InviteClientTransactions = %d, want %d", got, want)
	}

	reply(t, eng, sent, 486, "bob-tag")
	tp.waitSendReq(t, time.Second) // ACK
	waitForTransactState(t, eng, s.Transaction(), sip.TransactionStateTerminated, time.Second)

	rep = eng.Stats()
	if got := rep.Transactions.InviteClientTransactions; got != 0 {
		t.Errorf("InviteClientTransactions = %d, want 0", got)
	}
	if got, want := rep.Transactions.InviteClientTransactionsTotal, uint64(1); got != want {
		t.Errorf("InviteClientTransactionsTotal = %d, want %d", got, want)
	}
}
