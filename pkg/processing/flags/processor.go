package flags

import (
	"context"
	"sync"
	"time"

	"github.com/redmist-racing/timing-session-manager/log"
	"github.com/redmist-racing/timing-session-manager/pkg/model"
)

// Repository persists the flag ledger of one event.
type Repository interface {
	LoadBySession(ctx context.Context, eventID, sessionID int) (
		[]*model.FlagDuration, error)
	Insert(ctx context.Context, eventID, sessionID int,
		item *model.FlagDuration) error
	UpdateEndTime(ctx context.Context, eventID, sessionID int,
		flag model.Flag, startTime, endTime time.Time) error
}

// Processor keeps the persisted flag ledger gapless and chronologically
// ordered. Callers may resend already-recorded intervals; reconciliation
// is idempotent.
type Processor struct {
	eventID int
	repo    Repository
	l       *log.Logger

	mu        sync.Mutex
	sessionID int
	ledger    []*model.FlagDuration
}

type Option func(*Processor)

func WithLogger(l *log.Logger) Option {
	return func(p *Processor) { p.l = l }
}

func NewProcessor(eventID int, repo Repository, opts ...Option) *Processor {
	p := &Processor{
		eventID: eventID,
		repo:    repo,
		l:       log.Default().Named("processing.flags"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessFlags reconciles the reported intervals against the stored
// ledger: unknown intervals are appended, a now-provided end time fills a
// stored open interval, and a new interval auto-completes a still-open
// predecessor with its start time. A session id change reloads the ledger
// for the new session.
//
//nolint:gocognit // reconciliation cases
func (p *Processor) ProcessFlags(ctx context.Context, sessionID int,
	reported []*model.FlagDuration,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sessionID != p.sessionID {
		stored, err := p.repo.LoadBySession(ctx, p.eventID, sessionID)
		if err != nil {
			return err
		}
		p.l.Info("flag ledger session change",
			log.Int("previous", p.sessionID), log.Int("current", sessionID),
			log.Int("stored", len(stored)))
		p.sessionID = sessionID
		p.ledger = stored
	}

	for _, item := range reported {
		stored := p.findInterval(item.Flag, item.StartTime)
		if stored != nil {
			if stored.EndTime == nil && item.EndTime != nil {
				end := *item.EndTime
				stored.EndTime = &end
				if err := p.repo.UpdateEndTime(ctx, p.eventID, sessionID,
					stored.Flag, stored.StartTime, end); err != nil {
					return err
				}
			}
			continue
		}
		if err := p.completeOpenInterval(ctx, sessionID, item.StartTime); err != nil {
			return err
		}
		dup := item.Clone()
		p.ledger = append(p.ledger, dup)
		if err := p.repo.Insert(ctx, p.eventID, sessionID, dup); err != nil {
			return err
		}
	}
	return nil
}

// completeOpenInterval closes a still-open last interval at the start of
// the one about to be appended, keeping the ledger gapless even when the
// caller sends only the newest interval.
func (p *Processor) completeOpenInterval(ctx context.Context, sessionID int,
	nextStart time.Time,
) error {
	if len(p.ledger) == 0 {
		return nil
	}
	last := p.ledger[len(p.ledger)-1]
	if last.EndTime != nil {
		return nil
	}
	end := nextStart
	last.EndTime = &end
	return p.repo.UpdateEndTime(ctx, p.eventID, sessionID,
		last.Flag, last.StartTime, end)
}

func (p *Processor) findInterval(flag model.Flag, start time.Time) *model.FlagDuration {
	for _, item := range p.ledger {
		if item.Flag == flag && item.StartTime.Equal(start) {
			return item
		}
	}
	return nil
}

// Ledger returns a copy of the reconciled ledger for the current session.
func (p *Processor) Ledger() []*model.FlagDuration {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*model.FlagDuration, len(p.ledger))
	for i, item := range p.ledger {
		out[i] = item.Clone()
	}
	return out
}
