package nats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/ohler55/ojg/oj"

	"github.com/redmist-racing/timing-session-manager/log"
	"github.com/redmist-racing/timing-session-manager/pkg/model"
)

const DefaultSubjectPrefix = "tsm"

type (
	// MessageSink accepts inbound timing messages. Post must not block;
	// a false return means the message was not accepted.
	MessageSink interface {
		Post(msg *model.TimingMessage) bool
	}

	// Relay bridges the pipeline to NATS: it subscribes inbound timing
	// subjects, republishes session-state snapshots and delivers
	// relay-reset requests to the upstream feed relay.
	Relay struct {
		conn   *nats.Conn
		prefix string
		l      *log.Logger
		subs   []*nats.Subscription
	}
	Option func(*Relay)
)

func NewRelay(conn *nats.Conn, opts ...Option) *Relay {
	ret := &Relay{
		conn:   conn,
		prefix: DefaultSubjectPrefix,
		l:      log.Default().Named("nats"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func WithLogger(l *log.Logger) Option {
	return func(r *Relay) {
		r.l = l
	}
}

func WithSubjectPrefix(prefix string) Option {
	return func(r *Relay) {
		r.prefix = prefix
	}
}

func (r *Relay) timingSubject(eventID int) string {
	return fmt.Sprintf("%s.timing.%d.*", r.prefix, eventID)
}

func (r *Relay) stateSubject(eventID int) string {
	return fmt.Sprintf("%s.state.%d", r.prefix, eventID)
}

func (r *Relay) resetSubject(eventID int) string {
	return fmt.Sprintf("%s.reset.%d", r.prefix, eventID)
}

// SubscribeTimingMessages wires inbound timing subjects for an event into
// sink. The tag is the last subject token; a message body may carry its
// own tag, the subject wins on mismatch.
func (r *Relay) SubscribeTimingMessages(eventID int, sink MessageSink) error {
	sub, err := r.conn.Subscribe(r.timingSubject(eventID), func(m *nats.Msg) {
		msg, err := r.decodeTimingMessage(m)
		if err != nil {
			r.l.Warn("discarding inbound message",
				log.String("subject", m.Subject),
				log.ErrorField(err))
			return
		}
		if !sink.Post(msg) {
			r.l.Warn("message not accepted",
				log.String("tag", msg.Tag),
				log.String("id", msg.ID.String()))
		}
	})
	if err != nil {
		return err
	}
	r.subs = append(r.subs, sub)
	r.l.Info("subscribed timing messages",
		log.String("subject", r.timingSubject(eventID)))
	return nil
}

// timingEnvelope is the wire form of a TimingMessage. Payload travels as
// a plain string, the id as its canonical text form.
type timingEnvelope struct {
	ID        string    `json:"id"`
	Tag       string    `json:"tag"`
	Payload   string    `json:"payload"`
	SessionID int       `json:"sessionId"`
	Timestamp time.Time `json:"timestampUtc"`
}

func (r *Relay) decodeTimingMessage(m *nats.Msg) (*model.TimingMessage, error) {
	env := timingEnvelope{}
	if err := oj.Unmarshal(m.Data, &env); err != nil {
		return nil, err
	}
	idx := strings.LastIndex(m.Subject, ".")
	if idx < 0 || idx == len(m.Subject)-1 {
		return nil, fmt.Errorf("no tag in subject %s", m.Subject)
	}
	id, err := uuid.Parse(env.ID)
	if err != nil {
		id = uuid.New()
	}
	return &model.TimingMessage{
		ID:        id,
		Tag:       m.Subject[idx+1:],
		Payload:   []byte(env.Payload),
		SessionID: env.SessionID,
		Timestamp: env.Timestamp,
	}, nil
}

// PublishStates republishes every snapshot arriving on ch until the
// channel is closed or ctx is canceled. Meant to run in its own goroutine
// fed by the pipeline's Subscribe channel.
func (r *Relay) PublishStates(
	ctx context.Context,
	eventID int,
	ch <-chan *model.SessionState,
) {
	subject := r.stateSubject(eventID)
	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-ch:
			if !ok {
				return
			}
			data := oj.JSON(state)
			if err := r.conn.Publish(subject, []byte(data)); err != nil {
				r.l.Warn("state publish failed", log.ErrorField(err))
			}
		}
	}
}

// PublishRelayReset satisfies the consistency checker's reset sink.
func (r *Relay) PublishRelayReset(
	ctx context.Context,
	req *model.RelayResetRequest,
) error {
	data := oj.JSON(req)
	if err := r.conn.Publish(r.resetSubject(req.EventID), []byte(data)); err != nil {
		return err
	}
	r.l.Info("relay reset requested",
		log.Int("eventID", req.EventID),
		log.Bool("force", req.ForceTimingDataReset))
	return r.conn.Flush()
}

// Close drops the inbound subscriptions. The connection itself belongs to
// the caller.
func (r *Relay) Close() {
	for _, sub := range r.subs {
		//nolint:errcheck // best effort on shutdown
		sub.Unsubscribe()
	}
	r.subs = nil
}
