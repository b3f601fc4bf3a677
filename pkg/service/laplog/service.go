package laplog

import (
	"context"

	"github.com/redmist-racing/timing-session-manager/log"
	"github.com/redmist-racing/timing-session-manager/pkg/model"
)

// Store appends per-lap log records.
type Store interface {
	Append(ctx context.Context, record *model.LapRecord) error
}

// Decorator produces the logging-oriented copy of a car position,
// resolving the tri-state LapIncludedPit field.
type Decorator interface {
	DecorateForLog(car *model.CarPosition) *model.CarPosition
}

// Service writes one lap record per completed lap, derived from the
// pipeline's snapshot stream. The records feed the starting grid
// reconstruction and the external archival job.
type Service struct {
	eventID   int
	store     Store
	decorator Decorator
	l         *log.Logger

	sessionID int
	lastLaps  map[string]int
	primed    bool
}

type Option func(*Service)

func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.l = l }
}

func NewService(eventID int, store Store, decorator Decorator,
	opts ...Option,
) *Service {
	s := &Service{
		eventID:   eventID,
		store:     store,
		decorator: decorator,
		lastLaps:  make(map[string]int),
		l:         log.Default().Named("service.laplog"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run consumes snapshots until the channel closes or ctx is cancelled.
func (s *Service) Run(ctx context.Context, snapshots <-chan *model.SessionState) {
	s.l.Info("lap logger started")
	for {
		select {
		case <-ctx.Done():
			s.l.Info("lap logger stopped")
			return
		case snap, ok := <-snapshots:
			if !ok {
				s.l.Info("lap logger stopped, snapshot stream closed")
				return
			}
			s.ProcessSnapshot(ctx, snap)
		}
	}
}

// ProcessSnapshot logs a record for every car whose lap counter advanced
// since the previous snapshot. The first snapshot of a session only
// primes the baseline so a restart does not replay already-logged laps.
func (s *Service) ProcessSnapshot(ctx context.Context, snap *model.SessionState) {
	if snap.SessionID != s.sessionID || !s.primed {
		s.sessionID = snap.SessionID
		s.lastLaps = make(map[string]int, len(snap.CarPositions))
		for _, car := range snap.CarPositions {
			s.lastLaps[car.Number] = car.LastLapCompleted
		}
		s.primed = true
		return
	}
	for _, car := range snap.CarPositions {
		last, seen := s.lastLaps[car.Number]
		if !seen {
			s.lastLaps[car.Number] = car.LastLapCompleted
			continue
		}
		if car.LastLapCompleted <= last {
			continue
		}
		s.lastLaps[car.Number] = car.LastLapCompleted
		record := &model.LapRecord{
			EventID:     s.eventID,
			SessionID:   snap.SessionID,
			CarNumber:   car.Number,
			LapNumber:   car.LastLapCompleted,
			Flag:        snap.CurrentFlag,
			Position:    s.decorator.DecorateForLog(car),
			RecordStamp: snap.LastUpdated,
		}
		if err := s.store.Append(ctx, record); err != nil {
			s.l.Error("lap record append failed",
				log.String("car", car.Number),
				log.Int("lap", car.LastLapCompleted),
				log.ErrorField(err))
		}
	}
	s.primed = true
}
