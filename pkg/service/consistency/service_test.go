package consistency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmist-racing/timing-session-manager/pkg/model"
)

type fakeSource struct {
	state *model.SessionState
}

func (s *fakeSource) Snapshot(_ context.Context) (*model.SessionState, error) {
	return s.state, nil
}

type fakeSink struct {
	requests []*model.RelayResetRequest
}

func (s *fakeSink) PublishRelayReset(_ context.Context,
	req *model.RelayResetRequest,
) error {
	s.requests = append(s.requests, req)
	return nil
}

func carsAt(positions ...int) []*model.CarPosition {
	cars := make([]*model.CarPosition, len(positions))
	for i, pos := range positions {
		cars[i] = &model.CarPosition{OverallPosition: pos}
	}
	return cars
}

func TestPositionsContiguous(t *testing.T) {
	tests := []struct {
		name      string
		positions []int
		want      bool
	}{
		{"contiguous", []int{3, 1, 2}, true},
		{"empty", nil, true},
		{"unranked cars ignored", []int{0, 1, 0, 2}, true},
		{"gap", []int{1, 3}, false},
		{"duplicate", []int{1, 2, 2}, false},
		{"not starting at one", []int{2, 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PositionsContiguous(carsAt(tt.positions...)))
		})
	}
}

func newTestService(source *fakeSource, sink *fakeSink,
	now *time.Time, opts ...Option,
) *Service {
	base := []Option{
		WithClock(func() time.Time { return *now }),
		WithMaxConsistencyErrors(2),
		WithForceResetWindow(10 * time.Minute),
		WithMinForceResetInterval(time.Minute),
	}
	return NewService(1, source, sink, append(base, opts...)...)
}

func TestEscalationAfterMaxErrors(t *testing.T) {
	source := &fakeSource{state: &model.SessionState{CarPositions: carsAt(1, 3)}}
	sink := &fakeSink{}
	now := time.Date(2026, 5, 3, 14, 0, 0, 0, time.UTC)
	s := newTestService(source, sink, &now)

	// first inconsistent check: no reset yet
	assert.False(t, s.CheckOnce(context.Background()))
	assert.Empty(t, sink.requests)

	// second consecutive check triggers exactly one reset
	assert.False(t, s.CheckOnce(context.Background()))
	require.Len(t, sink.requests, 1)
	assert.False(t, sink.requests[0].ForceTimingDataReset)
	assert.Equal(t, 1, sink.requests[0].EventID)
}

func TestConsistentCheckResetsCounter(t *testing.T) {
	source := &fakeSource{state: &model.SessionState{CarPositions: carsAt(1, 3)}}
	sink := &fakeSink{}
	now := time.Date(2026, 5, 3, 14, 0, 0, 0, time.UTC)
	s := newTestService(source, sink, &now)

	assert.False(t, s.CheckOnce(context.Background()))
	// recovery clears the consecutive error count
	source.state = &model.SessionState{CarPositions: carsAt(1, 2)}
	assert.True(t, s.CheckOnce(context.Background()))

	source.state = &model.SessionState{CarPositions: carsAt(1, 3)}
	assert.False(t, s.CheckOnce(context.Background()))
	assert.Empty(t, sink.requests)
}

func triggerReset(t *testing.T, s *Service, sink *fakeSink) *model.RelayResetRequest {
	t.Helper()
	before := len(sink.requests)
	s.CheckOnce(context.Background())
	s.CheckOnce(context.Background())
	require.Len(t, sink.requests, before+1)
	return sink.requests[len(sink.requests)-1]
}

func TestForcedResetWithinWindow(t *testing.T) {
	source := &fakeSource{state: &model.SessionState{CarPositions: carsAt(1, 3)}}
	sink := &fakeSink{}
	now := time.Date(2026, 5, 3, 14, 0, 0, 0, time.UTC)
	s := newTestService(source, sink, &now)

	assert.False(t, triggerReset(t, s, sink).ForceTimingDataReset)

	// second reset two minutes later: within the force window, beyond the
	// minimum interval, escalates to a hard reset
	now = now.Add(2 * time.Minute)
	assert.True(t, triggerReset(t, s, sink).ForceTimingDataReset)
}

func TestResetOutsideWindowStaysSoft(t *testing.T) {
	source := &fakeSource{state: &model.SessionState{CarPositions: carsAt(1, 3)}}
	sink := &fakeSink{}
	now := time.Date(2026, 5, 3, 14, 0, 0, 0, time.UTC)
	s := newTestService(source, sink, &now)

	assert.False(t, triggerReset(t, s, sink).ForceTimingDataReset)

	now = now.Add(time.Hour)
	assert.False(t, triggerReset(t, s, sink).ForceTimingDataReset)
}

func TestResetTooSoonStaysSoft(t *testing.T) {
	source := &fakeSource{state: &model.SessionState{CarPositions: carsAt(1, 3)}}
	sink := &fakeSink{}
	now := time.Date(2026, 5, 3, 14, 0, 0, 0, time.UTC)
	s := newTestService(source, sink, &now)

	assert.False(t, triggerReset(t, s, sink).ForceTimingDataReset)

	// 30s later: within the force window but under the minimum interval
	now = now.Add(30 * time.Second)
	assert.False(t, triggerReset(t, s, sink).ForceTimingDataReset)
}

func TestRepeatedForcedResets(t *testing.T) {
	source := &fakeSource{state: &model.SessionState{CarPositions: carsAt(1, 3)}}
	sink := &fakeSink{}
	now := time.Date(2026, 5, 3, 14, 0, 0, 0, time.UTC)
	s := newTestService(source, sink, &now,
		WithMinForceResetInterval(5*time.Minute))

	assert.False(t, triggerReset(t, s, sink).ForceTimingDataReset)
	now = now.Add(6 * time.Minute)
	assert.True(t, triggerReset(t, s, sink).ForceTimingDataReset)

	// another hard reset after the minimum interval has passed again
	now = now.Add(6 * time.Minute)
	assert.True(t, triggerReset(t, s, sink).ForceTimingDataReset)
}

func TestClearTimestamps(t *testing.T) {
	source := &fakeSource{state: &model.SessionState{CarPositions: carsAt(1, 3)}}
	sink := &fakeSink{}
	now := time.Date(2026, 5, 3, 14, 0, 0, 0, time.UTC)
	s := newTestService(source, sink, &now)

	assert.False(t, triggerReset(t, s, sink).ForceTimingDataReset)

	// manual intervention: the next reset starts from a clean slate
	s.ClearTimestamps()
	now = now.Add(2 * time.Minute)
	assert.False(t, triggerReset(t, s, sink).ForceTimingDataReset)
}
