// Package events carries run lifecycle events to progress sinks.
//
// Events are informational: a sink failure never affects execution.
// Publishers log and move on.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cogflow/internal/config"
	"github.com/fyrsmithlabs/cogflow/internal/logging"
)

// ErrClosed is returned when publishing to a closed sink.
var ErrClosed = errors.New("sink closed")

// Kind identifies an event.
type Kind string

const (
	RunStarted    Kind = "run.started"
	WaveStarted   Kind = "wave.started"
	UnitStarted   Kind = "unit.started"
	UnitRetrying  Kind = "unit.retrying"
	UnitCompleted Kind = "unit.completed"
	UnitFailed    Kind = "unit.failed"
	UnitSkipped   Kind = "unit.skipped"
	WaveCompleted Kind = "wave.completed"
	RunCompleted  Kind = "run.completed"
)

// Counts is a snapshot of unit states.
type Counts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Pending returns units not yet terminal.
func (c Counts) Pending() int {
	return c.Total - c.Completed - c.Failed - c.Skipped
}

// Event is one lifecycle notification.
type Event struct {
	Kind    Kind      `json:"kind"`
	RunID   string    `json:"run_id"`
	UnitID  string    `json:"unit_id,omitempty"`
	Wave    int       `json:"wave,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Tier    string    `json:"tier,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Counts  *Counts   `json:"counts,omitempty"`
	Time    time.Time `json:"time"`
}

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// LogSink writes events to a logger. Run and wave events log at info, unit
// events at debug, failures at warn.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a LogSink. A nil logger discards output.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Nop()
	}
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) Publish(ctx context.Context, ev Event) error {
	fields := []zap.Field{zap.String("event", string(ev.Kind))}
	if ev.UnitID != "" {
		fields = append(fields, zap.String("unit_id", ev.UnitID))
	}
	if ev.Wave > 0 {
		fields = append(fields, zap.Int("wave", ev.Wave))
	}
	if ev.Attempt > 0 {
		fields = append(fields, zap.Int("attempt", ev.Attempt))
	}
	if ev.Tier != "" {
		fields = append(fields, zap.String("tier", ev.Tier))
	}
	if ev.Reason != "" {
		fields = append(fields, zap.String("reason", ev.Reason))
	}
	if ev.Counts != nil {
		fields = append(fields,
			zap.Int("completed", ev.Counts.Completed),
			zap.Int("failed", ev.Counts.Failed),
			zap.Int("skipped", ev.Counts.Skipped),
			zap.Int("pending", ev.Counts.Pending()),
		)
	}

	switch ev.Kind {
	case UnitFailed:
		s.logger.Warn(ctx, "unit failed", fields...)
	case UnitStarted, UnitRetrying, UnitCompleted, UnitSkipped:
		s.logger.Debug(ctx, string(ev.Kind), fields...)
	default:
		s.logger.Info(ctx, string(ev.Kind), fields...)
	}
	return nil
}

func (s *LogSink) Close() error { return nil }

// ChannelSink delivers events on a buffered channel. Publish blocks while
// the buffer is full, until ctx is done.
type ChannelSink struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side. It is closed by Close.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

func (s *ChannelSink) Publish(ctx context.Context, ev Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChannelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	return nil
}

// Multi fans out to several sinks. Every sink receives every event; errors
// are joined.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the configured sink. The nats sink is paired with a
// log sink so progress stays visible locally.
func FromConfig(cfg config.EventsConfig, logger *logging.Logger) (Sink, error) {
	switch cfg.Sink {
	case "none":
		return Nop{}, nil
	case "log", "":
		return NewLogSink(logger), nil
	case "nats":
		ns, err := DialNATS(cfg.NATSURL, cfg.SubjectPrefix)
		if err != nil {
			return nil, err
		}
		return Multi{ns, NewLogSink(logger)}, nil
	default:
		return nil, fmt.Errorf("unknown event sink %q", cfg.Sink)
	}
}

var (
	_ Sink = Nop{}
	_ Sink = (*LogSink)(nil)
	_ Sink = (*ChannelSink)(nil)
	_ Sink = Multi(nil)
)
