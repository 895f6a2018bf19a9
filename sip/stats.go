package sip

import (
	"sync/atomic"
	"time"
)

type StatsReport struct {
	Time         time.Time        `json:"time"`
	Messages     MessageStats     `json:"messages"`
	Transactions TransactionStats `json:"transactions"`
	Dialogs      DialogStats      `json:"dialogs"`
}

type MessageStats struct {
	// RequestsReceived is a number of parsed inbound requests.
	RequestsReceived uint64 `json:"requests_received"`
	// ResponsesReceived is a number of parsed inbound responses.
	ResponsesReceived uint64 `json:"responses_received"`
	// Sent is a number of messages accepted by the transport.
	Sent uint64 `json:"sent"`
	// Dropped is a number of inbound messages discarded by the parser, the sanity checks
	// or the response matching.
	Dropped uint64 `json:"dropped"`
}

type TransactionStats struct {
	// InviteClientTransactions is a number of active invite client transactions.
	InviteClientTransactions uint64 `json:"invite_client_transactions"`
	// NonInviteClientTransactions is a number of active non-invite client transactions.
	NonInviteClientTransactions uint64 `json:"non_invite_client_transactions"`
	// InviteServerTransactions is a number of active invite server transactions.
	InviteServerTransactions uint64 `json:"invite_server_transactions"`
	// NonInviteServerTransactions is a number of active non-invite server transactions.
	NonInviteServerTransactions uint64 `json:"non_invite_server_transactions"`
	// InviteClientTransactionsTotal is a total number of created invite client transactions.
	InviteClientTransactionsTotal uint64 `json:"invite_client_transactions_total"`
	// NonInviteClientTransactionsTotal is a total number of created non-invite client transactions.
	NonInviteClientTransactionsTotal uint64 `json:"non_invite_client_transactions_total"`
	// InviteServerTransactionsTotal is a total number of created invite server transactions.
	InviteServerTransactionsTotal uint64 `json:"invite_server_transactions_total"`
	// NonInviteServerTransactionsTotal is a total number of created non-invite server transactions.
	NonInviteServerTransactionsTotal uint64 `json:"non_invite_server_transactions_total"`
}

type DialogStats struct {
	// Dialogs is a number of active dialogs.
	Dialogs uint64 `json:"dialogs"`
	// DialogsTotal is a total number of created dialogs.
	DialogsTotal uint64 `json:"dialogs_total"`
}

// StatsRecorder records engine statistics.
// The zero value is ready to use.
type StatsRecorder struct {
	msgStats
	transactStats
	dialogStats
}

type msgStats struct {
	inReqs,
	inRess,
	sent,
	dropped atomic.Uint64
}

type transactStats struct {
	invClnTxs,
	invSrvTxs,
	ninvClnTxs,
	ninvSrvTxs atomic.Int64

	invClnTxsTotal,
	invSrvTxsTotal,
	ninvClnTxsTotal,
	ninvSrvTxsTotal atomic.Uint64
}

type dialogStats struct {
	dlgs      atomic.Int64
	dlgsTotal atomic.Uint64
}

// Report returns statistics report about the engine.
// Call this function periodically to get updated values.
func (rcdr *StatsRecorder) Report() StatsReport {
	return StatsReport{
		Time: time.Now(),
		Messages: MessageStats{
			RequestsReceived:  rcdr.inReqs.Load(),
			ResponsesReceived: rcdr.inRess.Load(),
			Sent:              rcdr.sent.Load(),
			Dropped:           rcdr.dropped.Load(),
		},
		Transactions: TransactionStats{
			InviteClientTransactions:         clampToUint64(rcdr.invClnTxs.Load()),
			NonInviteClientTransactions:      clampToUint64(rcdr.ninvClnTxs.Load()),
			InviteServerTransactions:         clampToUint64(rcdr.invSrvTxs.Load()),
			NonInviteServerTransactions:      clampToUint64(rcdr.ninvSrvTxs.Load()),
			InviteClientTransactionsTotal:    rcdr.invClnTxsTotal.Load(),
			NonInviteClientTransactionsTotal: rcdr.ninvClnTxsTotal.Load(),
			InviteServerTransactionsTotal:    rcdr.invSrvTxsTotal.Load(),
			NonInviteServerTransactionsTotal: rcdr.ninvSrvTxsTotal.Load(),
		},
		Dialogs: DialogStats{
			Dialogs:      clampToUint64(rcdr.dlgs.Load()),
			DialogsTotal: rcdr.dlgsTotal.Load(),
		},
	}
}

func clampToUint64(value int64) uint64 {
	if value <= 0 {
		return 0
	}
	return uint64(value)
}

func (rcdr *StatsRecorder) messageReceived(isReq bool) {
	if isReq {
		rcdr.inReqs.Add(1)
	} else {
		rcdr.inRess.Add(1)
	}
}

func (rcdr *StatsRecorder) messageSent() { rcdr.sent.Add(1) }

func (rcdr *StatsRecorder) messageDropped() { rcdr.dropped.Add(1) }

func (rcdr *StatsRecorder) transactionCreated(typ TransactionType) {
	//nolint:exhaustive
	switch typ {
	case TransactionTypeClientInvite:
		rcdr.invClnTxs.Add(1)
		rcdr.invClnTxsTotal.Add(1)
	case TransactionTypeClientNonInvite:
		rcdr.ninvClnTxs.Add(1)
		rcdr.ninvClnTxsTotal.Add(1)
	case TransactionTypeServerInvite:
		rcdr.invSrvTxs.Add(1)
		rcdr.invSrvTxsTotal.Add(1)
	case TransactionTypeServerNonInvite:
		rcdr.ninvSrvTxs.Add(1)
		rcdr.ninvSrvTxsTotal.Add(1)
	}
}

func (rcdr *StatsRecorder) transactionTerminated(typ TransactionType) {
	//nolint:exhaustive
	switch typ {
	case TransactionTypeClientInvite:
		rcdr.invClnTxs.Add(-1)
	case TransactionTypeClientNonInvite:
		rcdr.ninvClnTxs.Add(-1)
	case TransactionTypeServerInvite:
		rcdr.invSrvTxs.Add(-1)
	case TransactionTypeServerNonInvite:
		rcdr.ninvSrvTxs.Add(-1)
	}
}

func (rcdr *StatsRecorder) dialogCreated() {
	rcdr.dlgs.Add(1)
	rcdr.dlgsTotal.Add(1)
}

func (rcdr *StatsRecorder) dialogDestroyed() { rcdr.dlgs.Add(-1) }
