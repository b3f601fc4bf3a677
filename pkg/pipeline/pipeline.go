package pipeline

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redmist-racing/timing-session-manager/log"
	"github.com/redmist-racing/timing-session-manager/pkg/model"
	"github.com/redmist-racing/timing-session-manager/pkg/processing"
	"github.com/redmist-racing/timing-session-manager/pkg/processing/metadata"
	"github.com/redmist-racing/timing-session-manager/pkg/session"
	"github.com/redmist-racing/timing-session-manager/pkg/utils/broadcast"
)

const defaultQueueSize = 128

// FlagLedger reconciles the in-state flag intervals against persisted
// storage after each flag-affecting update.
type FlagLedger interface {
	ProcessFlags(ctx context.Context, sessionID int,
		reported []*model.FlagDuration) error
}

// Pipeline routes timing messages to their processors and serializes the
// resulting patches into the session state.
//
// One bounded queue per protocol tag preserves per-tag FIFO order with a
// single Process call in flight per tag; tags run concurrently with each
// other. All patch application funnels through one apply goroutine that
// holds the write lock only while applying already-computed patches, then
// broadcasts the new snapshot.
type Pipeline struct {
	sessionCtx    *session.Context
	eventID       int
	processors    map[string]processing.Processor
	enrich        *metadata.Processor
	flagLedger    FlagLedger
	staleDuration time.Duration
	queueSize     int
	l             *log.Logger

	queues    map[string]chan *model.TimingMessage
	applyCh   chan *processing.SessionStateUpdate
	snapshots chan *model.SessionState
	server    broadcast.BroadcastServer[*model.SessionState]

	// postMu keeps Complete from closing the queues while a Post
	// holding the read side is between the accepting check and the send
	postMu    sync.RWMutex
	accepting bool
	tagWg     sync.WaitGroup
	applyWg   sync.WaitGroup
	closeOnce sync.Once
}

type Option func(*Pipeline)

// WithProcessor registers the processor handling one protocol tag.
func WithProcessor(tag string, proc processing.Processor) Option {
	return func(p *Pipeline) { p.processors[tag] = proc }
}

// WithFlagLedger wires the persistent flag ledger reconciliation.
func WithFlagLedger(ledger FlagLedger) Option {
	return func(p *Pipeline) { p.flagLedger = ledger }
}

// WithStaleDuration enables marking cars whose data did not move for the
// given duration. Zero disables the marking.
func WithStaleDuration(d time.Duration) Option {
	return func(p *Pipeline) { p.staleDuration = d }
}

func WithQueueSize(size int) Option {
	return func(p *Pipeline) { p.queueSize = size }
}

func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) { p.l = l }
}

func NewPipeline(sessionCtx *session.Context, eventID int, opts ...Option) *Pipeline {
	p := &Pipeline{
		sessionCtx: sessionCtx,
		eventID:    eventID,
		processors: make(map[string]processing.Processor),
		enrich:     metadata.NewProcessor(),
		queueSize:  defaultQueueSize,
		l:          log.Default().Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.queues = make(map[string]chan *model.TimingMessage, len(p.processors))
	p.applyCh = make(chan *processing.SessionStateUpdate, p.queueSize)
	p.snapshots = make(chan *model.SessionState, 16)
	p.server = broadcast.NewBroadcastServer(
		strconv.Itoa(eventID), "session-state", p.snapshots)

	for tag, proc := range p.processors {
		queue := make(chan *model.TimingMessage, p.queueSize)
		p.queues[tag] = queue
		p.tagWg.Add(1)
		go p.serveTag(tag, proc, queue)
	}
	p.applyWg.Add(1)
	go p.serveApply()
	p.accepting = true
	return p
}

// Post enqueues a message for processing. Returns false when the tag is
// unknown, the queue is full or the pipeline is draining.
func (p *Pipeline) Post(msg *model.TimingMessage) bool {
	p.postMu.RLock()
	defer p.postMu.RUnlock()
	if !p.accepting {
		return false
	}
	queue, ok := p.queues[msg.Tag]
	if !ok {
		p.l.Warn("message with unknown tag dropped", log.String("tag", msg.Tag))
		return false
	}
	select {
	case queue <- msg:
		return true
	default:
		p.l.Warn("queue full, message dropped",
			log.String("tag", msg.Tag), log.Any("id", msg.ID))
		return false
	}
}

// Subscribe returns a channel receiving a snapshot after every
// state-affecting update.
func (p *Pipeline) Subscribe() <-chan *model.SessionState {
	return p.server.Subscribe()
}

func (p *Pipeline) CancelSubscription(ch <-chan *model.SessionState) {
	p.server.CancelSubscription(ch)
}

// CurrentState returns a point-in-time copy of the session state.
func (p *Pipeline) CurrentState(ctx context.Context) (*model.SessionState, error) {
	return p.sessionCtx.Snapshot(ctx)
}

// Complete drains all queues and the apply stage, then shuts the
// broadcast down. No new messages are accepted once draining begins.
func (p *Pipeline) Complete() {
	p.closeOnce.Do(func() {
		p.postMu.Lock()
		p.accepting = false
		p.postMu.Unlock()
		for _, queue := range p.queues {
			close(queue)
		}
		p.tagWg.Wait()
		close(p.applyCh)
		p.applyWg.Wait()
		p.server.Close()
		p.l.Info("pipeline drained")
	})
}

func (p *Pipeline) serveTag(tag string, proc processing.Processor,
	queue <-chan *model.TimingMessage,
) {
	defer p.tagWg.Done()
	for msg := range queue {
		update, err := proc.Process(context.Background(), msg)
		if err != nil {
			p.l.Error("processor failed",
				log.String("tag", tag), log.Any("id", msg.ID), log.ErrorField(err))
			continue
		}
		if update.Empty() {
			continue
		}
		p.applyCh <- update
	}
}

func (p *Pipeline) serveApply() {
	defer p.applyWg.Done()
	for update := range p.applyCh {
		snap, changed := p.apply(update)
		if !changed {
			continue
		}
		p.snapshots <- snap
		if p.flagLedger != nil {
			if err := p.flagLedger.ProcessFlags(context.Background(),
				snap.SessionID, snap.FlagDurations); err != nil {
				p.l.Error("flag ledger reconciliation failed", log.ErrorField(err))
			}
		}
	}
}

// apply holds the write lock for the duration of applying one update and
// returns the resulting snapshot when anything changed.
//
//nolint:gocognit // transition handling
func (p *Pipeline) apply(update *processing.SessionStateUpdate) (
	*model.SessionState, bool,
) {
	release, err := p.sessionCtx.AcquireWriteLock(context.Background())
	if err != nil {
		p.l.Error("write lock lost", log.ErrorField(err))
		return nil, false
	}
	defer release()

	state := p.sessionCtx.State()
	changed := false
	if update.SessionChange != nil {
		p.sessionCtx.NewSession(
			update.SessionChange.SessionID, update.SessionChange.SessionName)
		changed = true
	}

	prevFlag := state.CurrentFlag
	entriesTouched := false
	carsTouched := false
	for _, patch := range update.Patches {
		if !patch.Apply(state) {
			continue
		}
		changed = true
		switch patch.Area() {
		case "entries":
			entriesTouched = true
			carsTouched = true
		case "carPositions":
			carsTouched = true
		}
	}
	if !changed {
		return nil, false
	}

	if entriesTouched {
		p.sessionCtx.RefreshTransponders()
	}
	if state.CurrentFlag != prevFlag {
		p.recordFlagTransition(state)
		carsTouched = true
	}
	if carsTouched {
		p.enrich.Enrich(state)
	}
	now := time.Now().UTC()
	p.markStale(state, now)
	state.IsLive = true
	state.LastUpdated = now

	return state.Clone(), true
}

// recordFlagTransition keeps the in-state ledger gapless: the open
// interval closes at the new interval's start. The first green flag also
// captures the live starting grid when none is known yet.
func (p *Pipeline) recordFlagTransition(state *model.SessionState) {
	now := time.Now().UTC()
	if n := len(state.FlagDurations); n > 0 && state.FlagDurations[n-1].EndTime == nil {
		state.FlagDurations[n-1].EndTime = &now
	}
	state.FlagDurations = append(state.FlagDurations, &model.FlagDuration{
		Flag:      state.CurrentFlag,
		StartTime: now,
	})
	for _, car := range state.CarPositions {
		car.TrackFlag = state.CurrentFlag
	}
	if state.CurrentFlag == model.FlagGreen && !p.sessionCtx.StartingPositionsKnown() {
		p.sessionCtx.CaptureStartingGrid()
	}
}

func (p *Pipeline) markStale(state *model.SessionState, now time.Time) {
	if p.staleDuration <= 0 {
		return
	}
	cutoff := now.Add(-p.staleDuration)
	for _, car := range state.CarPositions {
		car.IsStale = !car.LastUpdated.IsZero() && car.LastUpdated.Before(cutoff)
	}
}
