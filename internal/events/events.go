// Package events publishes pipeline activity as JSON messages on a NATS
// subject tree rooted at bgsub.<stream>.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/bgsub/internal/kde"
	"github.com/banshee-data/bgsub/internal/pipeline"
	"github.com/banshee-data/bgsub/internal/timeutil"
)

// SubjectRoot prefixes every subject published by this package.
const SubjectRoot = "bgsub"

// Publisher is the subset of *nats.Conn used by Sink.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Connect dials a NATS server and names the connection after the stream.
func Connect(url, stream string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("bgsub-"+stream))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// FrameEvent is published on bgsub.<stream>.frame.
type FrameEvent struct {
	Stream             string    `json:"stream"`
	Index              int       `json:"index"`
	State              string    `json:"state"`
	ForegroundPixels   int       `json:"foreground_pixels"`
	ForegroundFraction float64   `json:"foreground_fraction"`
	UpdateCycles       int       `json:"update_cycles"`
	Timestamp          time.Time `json:"timestamp"`
}

// StateEvent is published on bgsub.<stream>.state when the model changes
// state.
type StateEvent struct {
	Stream    string    `json:"stream"`
	Index     int       `json:"index"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// SnapshotEvent summarises a bandwidth snapshot on bgsub.<stream>.snapshot.
// The bins themselves are not sent.
type SnapshotEvent struct {
	Stream        string    `json:"stream"`
	Frame         int       `json:"frame"`
	KernelBins    int       `json:"kernel_bins"`
	BandwidthMean float64   `json:"bandwidth_mean"`
	BandwidthStd  float64   `json:"bandwidth_std"`
	Timestamp     time.Time `json:"timestamp"`
}

// Sink forwards pipeline results to a Publisher. It implements
// pipeline.Sink and pipeline.SnapshotSink.
type Sink struct {
	pub    Publisher
	stream string
	clock  timeutil.Clock

	// MinForeground suppresses frame events whose foreground fraction is
	// below it. Learning frames are never published as frame events.
	MinForeground float64

	state     kde.State
	seen      bool
	published int
}

// NewSink publishes under bgsub.<stream>. Dots, spaces and wildcards in
// stream are replaced so it stays a single subject token.
func NewSink(pub Publisher, stream string, clock timeutil.Clock) *Sink {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Sink{pub: pub, stream: SubjectToken(stream), clock: clock}
}

// SubjectToken makes s usable as one NATS subject token.
func SubjectToken(s string) string {
	if s == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '*', '>', '\t':
			return '_'
		}
		return r
	}, s)
}

// Subject returns the full subject for kind, e.g. bgsub.cam1.frame.
func (s *Sink) Subject(kind string) string {
	return SubjectRoot + "." + s.stream + "." + kind
}

// Published is the number of messages sent so far.
func (s *Sink) Published() int { return s.published }

// WriteFrame implements pipeline.Sink.
func (s *Sink) WriteFrame(ctx context.Context, res pipeline.FrameResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.clock.Now()
	if !s.seen || res.State != s.state {
		ev := StateEvent{Stream: s.stream, Index: res.Index, To: res.State.String(), Timestamp: now}
		if s.seen {
			ev.From = s.state.String()
		}
		if err := s.publish("state", ev); err != nil {
			return err
		}
		s.state, s.seen = res.State, true
	}

	if res.Learning || res.ForegroundFraction < s.MinForeground {
		return nil
	}
	return s.publish("frame", FrameEvent{
		Stream:             s.stream,
		Index:              res.Index,
		State:              res.State.String(),
		ForegroundPixels:   res.ForegroundPixels,
		ForegroundFraction: res.ForegroundFraction,
		UpdateCycles:       res.UpdateCycles,
		Timestamp:          now,
	})
}

// WriteSnapshot implements pipeline.SnapshotSink.
func (s *Sink) WriteSnapshot(ctx context.Context, snap *kde.BandwidthSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bw, err := snap.Bandwidths()
	if err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	ev := SnapshotEvent{
		Stream:     s.stream,
		Frame:      snap.Frame,
		KernelBins: snap.KernelBins,
		Timestamp:  s.clock.Now(),
	}
	if len(bw) > 0 {
		ev.BandwidthMean, ev.BandwidthStd = stat.MeanStdDev(bw, nil)
	}
	return s.publish("snapshot", ev)
}

func (s *Sink) publish(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", kind, err)
	}
	if err := s.pub.Publish(s.Subject(kind), data); err != nil {
		return fmt.Errorf("publish %s: %w", s.Subject(kind), err)
	}
	s.published++
	return nil
}
