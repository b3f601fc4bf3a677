package consistency

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/redmist-racing/timing-session-manager/log"
	"github.com/redmist-racing/timing-session-manager/pkg/model"
)

const (
	defaultCheckInterval         = 30 * time.Second
	defaultRecheckInterval       = 5 * time.Second
	defaultMaxConsistencyErrors  = 3
	defaultForceResetWindow      = 10 * time.Minute
	defaultMinForceResetInterval = time.Minute
)

// ResetSink publishes relay reset requests.
type ResetSink interface {
	PublishRelayReset(ctx context.Context, req *model.RelayResetRequest) error
}

// Snapshotter provides the current session state.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*model.SessionState, error)
}

// Service watches the overall-position contiguity invariant: among active
// cars the positions must form a contiguous 1..N sequence without
// duplicates. Persistent violations escalate to a relay reset; a reset
// shortly after a previous one escalates to a hard reset discarding
// buffered timing data.
type Service struct {
	eventID int
	source  Snapshotter
	sink    ResetSink
	l       *log.Logger
	now     func() time.Time

	checkInterval         time.Duration
	recheckInterval       time.Duration
	maxConsistencyErrors  int
	forceResetWindow      time.Duration
	minForceResetInterval time.Duration

	mu sync.Mutex
	// zero time means "never"
	lastConsistencyError time.Time
	lastReset            time.Time
	lastForcedReconnect  time.Time
	errCount             int
	inconsistent         bool

	errCounter   metric.Int64Counter
	resetCounter metric.Int64Counter
}

type Option func(*Service)

func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.l = l }
}

func WithCheckInterval(d time.Duration) Option {
	return func(s *Service) { s.checkInterval = d }
}

func WithRecheckInterval(d time.Duration) Option {
	return func(s *Service) { s.recheckInterval = d }
}

func WithMaxConsistencyErrors(n int) Option {
	return func(s *Service) { s.maxConsistencyErrors = n }
}

func WithForceResetWindow(d time.Duration) Option {
	return func(s *Service) { s.forceResetWindow = d }
}

func WithMinForceResetInterval(d time.Duration) Option {
	return func(s *Service) { s.minForceResetInterval = d }
}

// WithClock replaces the time source, used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(eventID int, source Snapshotter, sink ResetSink,
	opts ...Option,
) *Service {
	s := &Service{
		eventID:               eventID,
		source:                source,
		sink:                  sink,
		now:                   time.Now,
		checkInterval:         defaultCheckInterval,
		recheckInterval:       defaultRecheckInterval,
		maxConsistencyErrors:  defaultMaxConsistencyErrors,
		forceResetWindow:      defaultForceResetWindow,
		minForceResetInterval: defaultMinForceResetInterval,
		l:                     log.Default().Named("service.consistency"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupMetrics()
	return s
}

func (s *Service) setupMetrics() {
	meter := otel.GetMeterProvider().Meter("tsm.consistency")
	var err error
	if s.errCounter, err = meter.Int64Counter("tsm.consistency.errors",
		metric.WithDescription("Number of detected position inconsistencies"),
		metric.WithUnit("{count}")); err != nil {
		s.l.Error("failed to register metric", log.ErrorField(err))
	}
	if s.resetCounter, err = meter.Int64Counter("tsm.consistency.resets",
		metric.WithDescription("Number of relay resets requested"),
		metric.WithUnit("{count}")); err != nil {
		s.l.Error("failed to register metric", log.ErrorField(err))
	}
}

// Run loops until ctx is cancelled. The cadence shortens to the recheck
// interval while an inconsistency persists.
func (s *Service) Run(ctx context.Context) {
	s.l.Info("consistency check started",
		log.Duration("interval", s.checkInterval))
	timer := time.NewTimer(s.checkInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.l.Info("consistency check stopped")
			return
		case <-timer.C:
			s.CheckOnce(ctx)
			s.mu.Lock()
			next := s.checkInterval
			if s.inconsistent {
				next = s.recheckInterval
			}
			s.mu.Unlock()
			timer.Reset(next)
		}
	}
}

// CheckOnce performs one consistency cycle and reports whether the car
// ordering was consistent.
func (s *Service) CheckOnce(ctx context.Context) bool {
	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		s.l.Warn("consistency check skipped", log.ErrorField(err))
		return true
	}
	consistent := PositionsContiguous(snap.CarPositions)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inconsistent = !consistent
	if consistent {
		s.errCount = 0
		return true
	}

	now := s.now()
	s.errCount++
	s.lastConsistencyError = now
	if s.errCounter != nil {
		s.errCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.Int("event", s.eventID)))
	}
	s.l.Warn("car ordering inconsistent",
		log.Int("errCount", s.errCount), log.Int("cars", len(snap.CarPositions)))

	if s.errCount >= s.maxConsistencyErrors {
		s.sendReset(ctx, now)
		s.errCount = 0
	}
	return false
}

// sendReset escalates to a hard reset when a prior reset is recent enough
// to fall in the force window but old enough to have had a chance to take
// effect. Hard resets are additionally rate limited on their own.
func (s *Service) sendReset(ctx context.Context, now time.Time) {
	force := false
	if !s.lastReset.IsZero() {
		since := now.Sub(s.lastReset)
		force = since <= s.forceResetWindow && since >= s.minForceResetInterval
	}
	if force && !s.lastForcedReconnect.IsZero() &&
		now.Sub(s.lastForcedReconnect) < s.minForceResetInterval {
		force = false
	}

	req := &model.RelayResetRequest{
		EventID:              s.eventID,
		ForceTimingDataReset: force,
	}
	if err := s.sink.PublishRelayReset(ctx, req); err != nil {
		s.l.Error("relay reset publication failed", log.ErrorField(err))
		return
	}
	s.l.Info("relay reset requested",
		log.Int("eventId", s.eventID), log.Bool("force", force))
	if s.resetCounter != nil {
		s.resetCounter.Add(ctx, 1,
			metric.WithAttributes(
				attribute.Int("event", s.eventID),
				attribute.Bool("force", force)))
	}
	s.lastReset = now
	if force {
		s.lastForcedReconnect = now
	}
}

// ClearTimestamps resets the internal timestamps to "never", used on
// manual intervention.
func (s *Service) ClearTimestamps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastConsistencyError = time.Time{}
	s.lastReset = time.Time{}
	s.lastForcedReconnect = time.Time{}
	s.errCount = 0
}

// PositionsContiguous reports whether the active cars' overall positions
// form a contiguous 1..N sequence without duplicates.
func PositionsContiguous(cars []*model.CarPosition) bool {
	positions := make([]int, 0, len(cars))
	for _, car := range cars {
		if car.OverallPosition > 0 {
			positions = append(positions, car.OverallPosition)
		}
	}
	sort.Ints(positions)
	for i, pos := range positions {
		if pos != i+1 {
			return false
		}
	}
	return true
}
