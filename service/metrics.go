package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the login handshake.
var (
	// loginAttempts counts finished login attempts by outcome (success, rejected).
	loginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powgate_login_attempts_total",
		Help: "Total number of login attempts by outcome",
	}, []string{"outcome"})

	// gateRejections counts rejected attempts by the gate that stopped them.
	gateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "powgate_gate_rejections_total",
		Help: "Total number of login attempts rejected per gate and reason",
	}, []string{"gate", "reason"})

	// credentialChecks counts password comparisons, including decoy ones.
	credentialChecks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "powgate_credential_checks_total",
		Help: "Total number of credential verifications performed",
	})

	challengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "powgate_challenges_issued_total",
		Help: "Total number of proof-of-work challenges issued",
	})

	sessionsRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "powgate_sessions_revoked_total",
		Help: "Total number of sessions revoked",
	})
)
