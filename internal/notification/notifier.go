// Package notification delivers alerts for strong consensus signals to
// external channels (log, webhooks).
package notification

import (
	"context"
	"fmt"
	"log"

	"mdstreamv1/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// DefaultThreshold is the consensus strength at which alerts fire.
const DefaultThreshold = 0.8

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`

	// Consensus fields, set when the alert is signal-driven.
	Kind     string  `json:"kind,omitempty"`
	Strength float64 `json:"strength,omitempty"`
	TS       int64   `json:"ts,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// ConsensusAlerter watches the consensus stream and fires an alert when
// a Buy or Sell crosses the strength threshold. Consecutive alerts of
// the same kind are suppressed until the consensus weakens or flips.
type ConsensusAlerter struct {
	notifiers []Notifier
	threshold float64
	lastKind  model.SignalKind
}

// NewConsensusAlerter creates an alerter. A threshold <= 0 uses
// DefaultThreshold.
func NewConsensusAlerter(threshold float64, notifiers ...Notifier) *ConsensusAlerter {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &ConsensusAlerter{notifiers: notifiers, threshold: threshold}
}

// Observe inspects one consensus signal and dispatches alerts as
// needed. Not goroutine-safe; call from the consensus loop.
func (a *ConsensusAlerter) Observe(ctx context.Context, sig model.Signal) {
	if sig.Kind == model.SignalHold || sig.Strength < a.threshold {
		a.lastKind = ""
		return
	}
	if sig.Kind == a.lastKind {
		return
	}
	a.lastKind = sig.Kind

	level := AlertWarning
	if sig.Strength >= 0.95 {
		level = AlertCritical
	}
	alert := Alert{
		Level:    level,
		Title:    fmt.Sprintf("Strong %s consensus", sig.Kind),
		Message:  fmt.Sprintf("strength %.2f: %s", sig.Strength, sig.Reason),
		Kind:     string(sig.Kind),
		Strength: sig.Strength,
		TS:       sig.TS,
	}
	for _, n := range a.notifiers {
		if err := n.Send(ctx, alert); err != nil {
			log.Printf("[notify] delivery error: %v", err)
		}
	}
}
