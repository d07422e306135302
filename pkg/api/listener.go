package api

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// NewLoggingListener returns a Listener that writes structured logs for
// every event using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
//
// Subscribe it to each kind of interest:
//
//	l := api.NewLoggingListener(logger)
//	eng.Subscribe(api.EventAfterSuccess, l)
//	eng.Subscribe(api.EventAfterFailure, l)
//
// It never vetoes: the returned error is always nil.
func NewLoggingListener(logger *slog.Logger) Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, ev Event) error {
		attrs := []any{
			slog.String("machine", ev.MachineID),
			slog.String("entity_type", ev.Entity.Type),
			slog.String("entity_id", ev.Entity.ID),
			slog.String("transition", ev.TransitionID),
			slog.String("principal", ev.Principal.ID),
		}
		switch ev.Kind {
		case EventBeforeTransition:
			logger.DebugContext(ctx, "transition_pending", attrs...)
		case EventAfterSuccess:
			if ev.Entry != nil {
				attrs = append(attrs,
					slog.Int64("entry_id", ev.Entry.ID),
					slog.String("to_state", ev.Entry.ToStateID),
				)
			}
			logger.InfoContext(ctx, "transition_applied", attrs...)
		case EventAfterFailure:
			attrs = append(attrs, slog.Any("error", ev.Err))
			logger.WarnContext(ctx, "transition_failed", attrs...)
		}
		return nil
	}
}

// Metrics collects simple counters over transition outcomes. It can be
// subscribed to several engines at once; all methods are safe for
// concurrent use.
type Metrics struct {
	started atomic.Int64
	applied atomic.Int64
	denied  atomic.Int64
	invalid atomic.Int64
	failed  atomic.Int64
}

// MetricsSnapshot is an immutable snapshot of Metrics.
type MetricsSnapshot struct {
	Started int64 // before-events observed
	Applied int64 // committed transitions
	Denied  int64 // guard denials
	Invalid int64 // stale-state validation failures
	Failed  int64 // persistence failures
}

// Listener returns the Listener to subscribe; it handles all event kinds.
func (m *Metrics) Listener() Listener {
	return func(ctx context.Context, ev Event) error {
		switch ev.Kind {
		case EventBeforeTransition:
			m.started.Add(1)
		case EventAfterSuccess:
			m.applied.Add(1)
		case EventAfterFailure:
			switch ev.Err.(type) {
			case *AuthorizationError:
				m.denied.Add(1)
			case *ValidationError:
				m.invalid.Add(1)
			default:
				m.failed.Add(1)
			}
		}
		return nil
	}
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Started: m.started.Load(),
		Applied: m.applied.Load(),
		Denied:  m.denied.Load(),
		Invalid: m.invalid.Load(),
		Failed:  m.failed.Load(),
	}
}
