package quic

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection-level counters, registered on the default registry.
var (
	packetsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quicwire",
			Subsystem: "connection",
			Name:      "packets_received_total",
			Help:      "Total number of packets successfully decrypted, per epoch",
		},
		[]string{"epoch"},
	)

	packetsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quicwire",
			Subsystem: "connection",
			Name:      "packets_sent_total",
			Help:      "Total number of packets encrypted and emitted, per epoch",
		},
		[]string{"epoch"},
	)

	packetsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quicwire",
			Subsystem: "connection",
			Name:      "packets_dropped_total",
			Help:      "Total number of packets abandoned, per reason",
		},
		[]string{"reason"},
	)

	framesUnhandled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "quicwire",
			Subsystem: "connection",
			Name:      "frames_unhandled_total",
			Help:      "Total number of unknown frame types encountered",
		},
	)
)

// Drop reasons for packets_dropped_total.
const (
	dropReasonHeader  = "header"
	dropReasonKeys    = "keys"
	dropReasonDecrypt = "decrypt"
	dropReasonFrame   = "frame"
)
