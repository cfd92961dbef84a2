package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RegistrationsInitiatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workshop_registrations_initiated_total",
		Help: "Total number of registration attempts, by attempt kind",
	}, []string{"attempt"})

	RegistrationsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workshop_registrations_rejected_total",
		Help: "Total number of registration attempts rejected, by error kind",
	}, []string{"kind"})

	RegistrationsConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workshop_registrations_confirmed_total",
		Help: "Total number of registrations that reached confirmed/paid",
	})

	StaleRegistrationsRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workshop_stale_registrations_removed_total",
		Help: "Total number of stale registration rows removed by cleanup",
	})

	SeatRecalculationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workshop_seat_recalculations_total",
		Help: "Total number of seat recalculations, by outcome",
	}, []string{"outcome"})

	WorkshopsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "workshops_registration_closed_total",
		Help: "Total number of workshops closed by the scheduled seat-closer",
	})

	ChargesCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_charges_created_total",
		Help: "Total number of gateway charge creations, by outcome",
	}, []string{"outcome"})

	PaymentVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_verifications_total",
		Help: "Total number of payment verifications, by terminal state",
	}, []string{"state"})

	PaymentVerificationAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_verification_attempts",
		Help:    "Gateway fetches used per payment verification",
		Buckets: []float64{0, 1, 2, 3, 5},
	})

	PaymentTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_status_transitions_total",
		Help: "Total number of registration payment status transitions, by target status and source",
	}, []string{"status", "source"})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_request_latency_seconds",
		Help:    "Latency of payment gateway requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
