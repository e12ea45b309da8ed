package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	postbackResultCredited  = "credited"
	postbackResultDuplicate = "duplicate"
	postbackResultRejected  = "rejected"
	postbackResultIgnored   = "ignored"
	postbackResultError     = "error"
)

// PostbacksTotal counts inbound postbacks by how they were handled.
var PostbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "offerwall",
	Subsystem: "postback",
	Name:      "received_total",
	Help:      "Total provider postbacks by result.",
}, []string{"provider", "result"})

// PayoutTransitions counts payout status changes.
var PayoutTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "offerwall",
	Subsystem: "payout",
	Name:      "transitions_total",
	Help:      "Total payout status transitions by target status.",
}, []string{"status"})

// RailErrors counts failed calls to a payout rail.
var RailErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "offerwall",
	Subsystem: "payout",
	Name:      "rail_errors_total",
	Help:      "Total payout rail call failures by operation.",
}, []string{"rail", "op"})

// OfferSyncUpserts counts catalog offers written by a provider sync.
var OfferSyncUpserts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "offerwall",
	Subsystem: "catalog",
	Name:      "offers_synced_total",
	Help:      "Total offers upserted from provider catalogs.",
}, []string{"provider"})
