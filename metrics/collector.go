// Package metrics exports the engine statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghettovoice/sipcore/sip"
)

// StatsSource provides a statistics snapshot, [*sip.Engine] implements it.
type StatsSource interface {
	Stats() sip.StatsReport
}

type metric struct {
	desc  *prometheus.Desc
	typ   prometheus.ValueType
	value func(r *sip.StatsReport) float64
}

// Collector is a [prometheus.Collector] reading the engine statistics on every scrape.
type Collector struct {
	src     StatsSource
	metrics []metric
}

// NewCollector creates a collector over the source.
// Metric names are prefixed with the namespace, "sip" if empty.
func NewCollector(src StatsSource, namespace string) *Collector {
	if namespace == "" {
		namespace = "sip"
	}

	c := &Collector{src: src}
	add := func(subsystem, name, help string, typ prometheus.ValueType, labels prometheus.Labels, fn func(r *sip.StatsReport) uint64) {
		c.metrics = append(c.metrics, metric{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, labels),
			typ:   typ,
			value: func(r *sip.StatsReport) float64 { return float64(fn(r)) },
		})
	}

	add("messages", "requests_received_total", "Number of parsed inbound requests.", prometheus.CounterValue, nil,
		func(r *sip.StatsReport) uint64 { return r.Messages.RequestsReceived })
	add("messages", "responses_received_total", "Number of parsed inbound responses.", prometheus.CounterValue, nil,
		func(r *sip.StatsReport) uint64 { return r.Messages.ResponsesReceived })
	add("messages", "sent_total", "Number of messages accepted by the transport.", prometheus.CounterValue, nil,
		func(r *sip.StatsReport) uint64 { return r.Messages.Sent })
	add("messages", "dropped_total", "Number of discarded inbound messages.", prometheus.CounterValue, nil,
		func(r *sip.StatsReport) uint64 { return r.Messages.Dropped })

	for _, tx := range []struct {
		typ           sip.TransactionType
		active, total func(r *sip.StatsReport) uint64
	}{
		{
			sip.TransactionTypeClientInvite,
			func(r *sip.StatsReport) uint64 { return r.Transactions.InviteClientTransactions },
			func(r *sip.StatsReport) uint64 { return r.Transactions.InviteClientTransactionsTotal },
		},
		{
			sip.TransactionTypeClientNonInvite,
			func(r *sip.StatsReport) uint64 { return r.Transactions.NonInviteClientTransactions },
			func(r *sip.StatsReport) uint64 { return r.Transactions.NonInviteClientTransactionsTotal },
		},
		{
			sip.TransactionTypeServerInvite,
			func(r *sip.StatsReport) uint64 { return r.Transactions.InviteServerTransactions },
			func(r *sip.StatsReport) uint64 { return r.Transactions.InviteServerTransactionsTotal },
		},
		{
			sip.TransactionTypeServerNonInvite,
			func(r *sip.StatsReport) uint64 { return r.Transactions.NonInviteServerTransactions },
			func(r *sip.StatsReport) uint64 { return r.Transactions.NonInviteServerTransactionsTotal },
		},
	} {
		labels := prometheus.Labels{"type": string(tx.typ)}
		add("transactions", "active", "Number of active transactions.", prometheus.GaugeValue, labels, tx.active)
		add("transactions", "created_total", "Number of created transactions.", prometheus.CounterValue, labels, tx.total)
	}

	add("dialogs", "active", "Number of active dialogs.", prometheus.GaugeValue, nil,
		func(r *sip.StatsReport) uint64 { return r.Dialogs.Dialogs })
	add("dialogs", "created_total", "Number of created dialogs.", prometheus.CounterValue, nil,
		func(r *sip.StatsReport) uint64 { return r.Dialogs.DialogsTotal })
	return c
}

// Describe implements [prometheus.Collector].
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements [prometheus.Collector].
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	rep := c.src.Stats()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.typ, m.value(&rep))
	}
}
