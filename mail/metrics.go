package mail

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Send outcomes.
const (
	outcomeDelivered = "delivered"
	outcomeFiltered  = "filtered"
	outcomeSpam      = "spam"
	outcomeSelf      = "self"
)

// Bookkeeping stages that run after a send has committed.
const (
	stageAutoban = "autoban"
	stageUnread  = "unread"
	stageNotify  = "notify"
)

var (
	metricSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dmail",
		Name:      "messages_sent_total",
		Help:      "Messages sent, by outcome of the recipient copy.",
	}, []string{"outcome"})

	metricAutobans = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dmail",
		Name:      "autobans_total",
		Help:      "Sanctions issued by the spam autoban policy.",
	})

	metricNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dmail",
		Name:      "notifications_total",
		Help:      "New-mail notifications handed to the notifier.",
	})

	metricBookkeepingFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dmail",
		Name:      "bookkeeping_failures_total",
		Help:      "Post-commit steps that failed after a message was stored.",
	}, []string{"stage"})
)
