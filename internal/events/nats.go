package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes events as JSON to
//
//	<prefix>.run.<run_id>.<kind>
//
// e.g. cogflow.run.5f0c....unit.completed. Subscribers can follow one run
// with "cogflow.run.<id>.>" or every failure with "cogflow.run.*.unit.failed".
type NATSSink struct {
	nc     *nats.Conn
	prefix string
	owned  bool
}

// NewNATSSink publishes on an existing connection. Close leaves the
// connection open.
func NewNATSSink(nc *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = "cogflow"
	}
	return &NATSSink{nc: nc, prefix: prefix}
}

// DialNATS connects to url and returns a sink that owns the connection.
func DialNATS(url, prefix string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("cogflow"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	s := NewNATSSink(nc, prefix)
	s.owned = true
	return s, nil
}

// Subject returns the subject ev is published on.
func (s *NATSSink) Subject(ev Event) string {
	runID := ev.RunID
	if runID == "" {
		runID = "_"
	}
	return strings.Join([]string{s.prefix, "run", runID, string(ev.Kind)}, ".")
}

func (s *NATSSink) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.nc.IsClosed() {
		return ErrClosed
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if err := s.nc.Publish(s.Subject(ev), data); err != nil {
		return fmt.Errorf("publishing %s: %w", ev.Kind, err)
	}
	return nil
}

// Close flushes buffered events and, for owned connections, drains and
// closes the connection.
func (s *NATSSink) Close() error {
	if s.nc.IsClosed() {
		return nil
	}
	if !s.owned {
		return s.nc.Flush()
	}
	return s.nc.Drain()
}

var _ Sink = (*NATSSink)(nil)
