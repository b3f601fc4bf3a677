package laplog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmist-racing/timing-session-manager/pkg/model"
)

type fakeStore struct {
	records []*model.LapRecord
}

func (s *fakeStore) Append(_ context.Context, record *model.LapRecord) error {
	s.records = append(s.records, record)
	return nil
}

type fakeDecorator struct{}

func (d *fakeDecorator) DecorateForLog(car *model.CarPosition) *model.CarPosition {
	dup := car.Clone()
	dup.LapIncludedPit = true
	return dup
}

func snapshot(sessionID int, flag model.Flag, laps map[string]int) *model.SessionState {
	cars := make([]*model.CarPosition, 0, len(laps))
	for num, lap := range laps {
		cars = append(cars, &model.CarPosition{Number: num, LastLapCompleted: lap})
	}
	return &model.SessionState{
		SessionID:    sessionID,
		CurrentFlag:  flag,
		CarPositions: cars,
		LastUpdated:  time.Date(2026, 5, 3, 14, 0, 0, 0, time.UTC),
	}
}

func TestFirstSnapshotPrimesOnly(t *testing.T) {
	store := &fakeStore{}
	s := NewService(1, store, &fakeDecorator{})

	s.ProcessSnapshot(context.Background(),
		snapshot(5, model.FlagGreen, map[string]int{"12": 20}))
	assert.Empty(t, store.records)
}

func TestLapAdvanceLogsRecord(t *testing.T) {
	store := &fakeStore{}
	s := NewService(1, store, &fakeDecorator{})

	s.ProcessSnapshot(context.Background(),
		snapshot(5, model.FlagGreen, map[string]int{"12": 3, "7": 3}))
	s.ProcessSnapshot(context.Background(),
		snapshot(5, model.FlagGreen, map[string]int{"12": 4, "7": 3}))

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, 1, rec.EventID)
	assert.Equal(t, 5, rec.SessionID)
	assert.Equal(t, "12", rec.CarNumber)
	assert.Equal(t, 4, rec.LapNumber)
	assert.Equal(t, model.FlagGreen, rec.Flag)
	// the stored snapshot went through the decorator
	assert.True(t, rec.Position.LapIncludedPit)
}

func TestNoRecordWithoutAdvance(t *testing.T) {
	store := &fakeStore{}
	s := NewService(1, store, &fakeDecorator{})

	same := snapshot(5, model.FlagGreen, map[string]int{"12": 4})
	s.ProcessSnapshot(context.Background(), same)
	s.ProcessSnapshot(context.Background(), same)
	s.ProcessSnapshot(context.Background(), same)
	assert.Empty(t, store.records)
}

func TestSessionChangeResetsBaseline(t *testing.T) {
	store := &fakeStore{}
	s := NewService(1, store, &fakeDecorator{})

	s.ProcessSnapshot(context.Background(),
		snapshot(5, model.FlagGreen, map[string]int{"12": 20}))
	// new session: counters restart, first snapshot primes again
	s.ProcessSnapshot(context.Background(),
		snapshot(6, model.FlagGreen, map[string]int{"12": 0}))
	s.ProcessSnapshot(context.Background(),
		snapshot(6, model.FlagGreen, map[string]int{"12": 1}))

	require.Len(t, store.records, 1)
	assert.Equal(t, 6, store.records[0].SessionID)
	assert.Equal(t, 1, store.records[0].LapNumber)
}

func TestLateJoinerBaselinedSilently(t *testing.T) {
	store := &fakeStore{}
	s := NewService(1, store, &fakeDecorator{})

	s.ProcessSnapshot(context.Background(),
		snapshot(5, model.FlagGreen, map[string]int{"12": 4}))
	s.ProcessSnapshot(context.Background(),
		snapshot(5, model.FlagGreen, map[string]int{"12": 4, "99": 4}))
	assert.Empty(t, store.records)

	s.ProcessSnapshot(context.Background(),
		snapshot(5, model.FlagGreen, map[string]int{"12": 4, "99": 5}))
	require.Len(t, store.records, 1)
	assert.Equal(t, "99", store.records[0].CarNumber)
}

func TestRecordCarriesSessionFlag(t *testing.T) {
	store := &fakeStore{}
	s := NewService(1, store, &fakeDecorator{})

	s.ProcessSnapshot(context.Background(),
		snapshot(5, model.FlagYellow, map[string]int{"12": 0}))
	s.ProcessSnapshot(context.Background(),
		snapshot(5, model.FlagYellow, map[string]int{"12": 1}))

	require.Len(t, store.records, 1)
	assert.Equal(t, model.FlagYellow, store.records[0].Flag)
}
