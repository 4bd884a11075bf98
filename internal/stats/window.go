// Package stats implements rolling per-symbol trade statistics over three
// window retention policies (event-count, time-duration, hybrid), plus the
// collector that owns the per-symbol state map.
package stats

import (
	"fmt"
	"time"
)

// WindowKind selects the retention policy of a stats window.
type WindowKind string

const (
	WindowEventBased WindowKind = "event"
	WindowTimeBased  WindowKind = "time"
	WindowHybrid     WindowKind = "hybrid"
)

// WindowConfig controls retention of the price-point ring. Size applies to
// event and hybrid windows, Duration to time and hybrid windows.
type WindowConfig struct {
	Kind     WindowKind    `json:"kind"`
	Size     int           `json:"size,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// InvalidWindowConfigError reports window parameters that violate their
// invariants (non-positive size or duration).
type InvalidWindowConfigError struct {
	Msg string
}

func (e *InvalidWindowConfigError) Error() string {
	return "invalid window config: " + e.Msg
}

// EventWindow retains the last size points.
func EventWindow(size int) (WindowConfig, error) {
	if size <= 0 {
		return WindowConfig{}, &InvalidWindowConfigError{Msg: fmt.Sprintf("event window size must be > 0, got %d", size)}
	}
	return WindowConfig{Kind: WindowEventBased, Size: size}, nil
}

// TimeWindow retains points no older than d relative to the newest update.
func TimeWindow(d time.Duration) (WindowConfig, error) {
	if d <= 0 {
		return WindowConfig{}, &InvalidWindowConfigError{Msg: fmt.Sprintf("time window duration must be > 0, got %v", d)}
	}
	return WindowConfig{Kind: WindowTimeBased, Duration: d}, nil
}

// HybridWindow applies the time filter first, then truncates to the last
// size points.
func HybridWindow(size int, d time.Duration) (WindowConfig, error) {
	if size <= 0 {
		return WindowConfig{}, &InvalidWindowConfigError{Msg: fmt.Sprintf("hybrid window size must be > 0, got %d", size)}
	}
	if d <= 0 {
		return WindowConfig{}, &InvalidWindowConfigError{Msg: fmt.Sprintf("hybrid window duration must be > 0, got %v", d)}
	}
	return WindowConfig{Kind: WindowHybrid, Size: size, Duration: d}, nil
}

// String renders the config for log lines and the terminal header.
func (w WindowConfig) String() string {
	switch w.Kind {
	case WindowEventBased:
		return fmt.Sprintf("event(%d)", w.Size)
	case WindowTimeBased:
		return fmt.Sprintf("time(%s)", w.Duration)
	case WindowHybrid:
		return fmt.Sprintf("hybrid(%d, %s)", w.Size, w.Duration)
	default:
		return string(w.Kind)
	}
}
