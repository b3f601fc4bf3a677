package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/redmist-racing/timing-session-manager/pkg/model"
)

func car(num string, pos, laps int, totalTime string) *model.CarPosition {
	return &model.CarPosition{
		Number:           num,
		OverallPosition:  pos,
		LastLapCompleted: laps,
		TotalTime:        totalTime,
	}
}

func stateWith(cars ...*model.CarPosition) *model.SessionState {
	return &model.SessionState{CarPositions: cars}
}

func TestEnrichGapsSameLap(t *testing.T) {
	state := stateWith(
		car("1", 1, 10, "00:10:00.000"),
		car("2", 2, 10, "00:10:01.000"),
		car("3", 3, 10, "00:10:02.000"),
	)
	NewProcessor().Enrich(state)

	assert.Equal(t, "", state.CarPositions[0].OverallGap)
	assert.Equal(t, "", state.CarPositions[0].OverallDifference)
	assert.Equal(t, "1.000", state.CarPositions[1].OverallGap)
	assert.Equal(t, "1.000", state.CarPositions[1].OverallDifference)
	assert.Equal(t, "1.000", state.CarPositions[2].OverallGap)
	assert.Equal(t, "2.000", state.CarPositions[2].OverallDifference)
}

func TestEnrichGapFormatSwitchesAtSixtySeconds(t *testing.T) {
	state := stateWith(
		car("1", 1, 10, "00:10:00.000"),
		car("2", 2, 10, "00:10:59.999"),
		car("3", 3, 10, "00:12:05.500"),
	)
	NewProcessor().Enrich(state)

	assert.Equal(t, "59.999", state.CarPositions[1].OverallGap)
	assert.Equal(t, "2:05.500", state.CarPositions[2].OverallDifference)
	assert.Equal(t, "1:05.501", state.CarPositions[2].OverallGap)
}

func TestEnrichLapDifference(t *testing.T) {
	state := stateWith(
		car("1", 1, 12, "00:10:00.000"),
		car("2", 2, 11, "00:10:01.000"),
		car("3", 3, 9, "00:10:02.000"),
	)
	NewProcessor().Enrich(state)

	assert.Equal(t, "1 lap", state.CarPositions[1].OverallGap)
	assert.Equal(t, "1 lap", state.CarPositions[1].OverallDifference)
	assert.Equal(t, "2 laps", state.CarPositions[2].OverallGap)
	assert.Equal(t, "3 laps", state.CarPositions[2].OverallDifference)
}

func TestEnrichStaleOrderingRendersEmpty(t *testing.T) {
	// car 2 is ahead by position but behind by time on the same lap
	state := stateWith(
		car("1", 1, 10, "00:10:05.000"),
		car("2", 2, 10, "00:10:01.000"),
	)
	NewProcessor().Enrich(state)

	assert.Equal(t, "", state.CarPositions[1].OverallGap)
	assert.Equal(t, "", state.CarPositions[1].OverallDifference)
}

func TestEnrichUnparsableTotalTimeSkipped(t *testing.T) {
	second := car("2", 2, 10, "")
	second.OverallGap = "0.500"
	second.OverallDifference = "0.500"
	state := stateWith(
		car("1", 1, 10, "00:10:00.000"),
		second,
		car("3", 3, 10, "00:10:02.000"),
	)
	NewProcessor().Enrich(state)

	// prior values survive for the car without a total time
	assert.Equal(t, "0.500", second.OverallGap)
	assert.Equal(t, "0.500", second.OverallDifference)
	// the car behind compares against the nearest valid predecessor
	assert.Equal(t, "2.000", state.CarPositions[2].OverallGap)
	assert.Equal(t, "2.000", state.CarPositions[2].OverallDifference)
}

func TestEnrichClassPositionsAndGaps(t *testing.T) {
	gt3a := car("1", 1, 10, "00:10:00.000")
	gt3a.Class = "GT3"
	gt4a := car("7", 2, 10, "00:10:01.000")
	gt4a.Class = "GT4"
	gt3b := car("2", 3, 10, "00:10:03.000")
	gt3b.Class = "GT3"
	gt4b := car("8", 4, 10, "00:10:04.500")
	gt4b.Class = "GT4"
	state := stateWith(gt3a, gt4a, gt3b, gt4b)
	NewProcessor().Enrich(state)

	assert.Equal(t, 1, gt3a.ClassPosition)
	assert.Equal(t, 1, gt4a.ClassPosition)
	assert.Equal(t, 2, gt3b.ClassPosition)
	assert.Equal(t, 2, gt4b.ClassPosition)

	assert.Equal(t, "", gt4a.InClassGap)
	assert.Equal(t, "3.000", gt3b.InClassGap)
	assert.Equal(t, "3.500", gt4b.InClassGap)
	assert.Equal(t, "3.500", gt4b.InClassDifference)
}

func TestEnrichBestTimeZeroFiltered(t *testing.T) {
	a := car("1", 1, 10, "00:10:00.000")
	a.BestTime = "00:00:00.000"
	b := car("2", 2, 10, "00:10:01.000")
	b.BestTime = "00:01:35.200"
	c := car("3", 3, 10, "00:10:02.000")
	c.BestTime = "00:01:34.100"
	c.IsBestTime = false
	b.IsBestTime = true // previous holder
	state := stateWith(a, b, c)
	NewProcessor().Enrich(state)

	assert.False(t, a.IsBestTime)
	assert.False(t, b.IsBestTime)
	assert.True(t, c.IsBestTime)
}

func TestEnrichBestTimePerClass(t *testing.T) {
	gt3 := car("1", 1, 10, "00:10:00.000")
	gt3.Class = "GT3"
	gt3.BestTime = "00:01:30.000"
	gt4 := car("7", 2, 10, "00:10:01.000")
	gt4.Class = "GT4"
	gt4.BestTime = "00:01:40.000"
	state := stateWith(gt3, gt4)
	NewProcessor().Enrich(state)

	assert.True(t, gt3.IsBestTime)
	assert.True(t, gt3.IsBestTimeClass)
	assert.False(t, gt4.IsBestTime)
	assert.True(t, gt4.IsBestTimeClass)
}

func TestEnrichPositionsGained(t *testing.T) {
	a := car("1", 1, 10, "00:10:00.000")
	a.OverallStartingPosition = 4
	b := car("2", 2, 10, "00:10:01.000")
	b.OverallStartingPosition = 3
	c := car("3", 3, 10, "00:10:02.000")
	c.OverallStartingPosition = 0 // unknown start
	state := stateWith(a, b, c)
	NewProcessor().Enrich(state)

	assert.Equal(t, 3, a.OverallPositionsGained)
	assert.Equal(t, 1, b.OverallPositionsGained)
	assert.Equal(t, model.InvalidPosition, c.OverallPositionsGained)
	assert.True(t, a.IsOverallMostPositionsGained)
	assert.False(t, b.IsOverallMostPositionsGained)
}

func TestEnrichMostPositionsGainedTie(t *testing.T) {
	a := car("1", 1, 10, "00:10:00.000")
	a.OverallStartingPosition = 3
	b := car("2", 2, 10, "00:10:01.000")
	b.OverallStartingPosition = 4
	state := stateWith(a, b)
	NewProcessor().Enrich(state)

	// both gained exactly 2, nobody gets the award
	assert.Equal(t, 2, a.OverallPositionsGained)
	assert.Equal(t, 2, b.OverallPositionsGained)
	assert.False(t, a.IsOverallMostPositionsGained)
	assert.False(t, b.IsOverallMostPositionsGained)
}

func TestEnrichNoPositiveGainNoAward(t *testing.T) {
	a := car("1", 1, 10, "00:10:00.000")
	a.OverallStartingPosition = 1
	b := car("2", 2, 10, "00:10:01.000")
	b.OverallStartingPosition = 1 // lost a position
	state := stateWith(a, b)
	NewProcessor().Enrich(state)

	assert.False(t, a.IsOverallMostPositionsGained)
	assert.False(t, b.IsOverallMostPositionsGained)
}

func TestEnrichUnrankedCarsSortLast(t *testing.T) {
	parked := car("99", 0, 0, "")
	leader := car("1", 1, 10, "00:10:00.000")
	state := stateWith(parked, leader)
	NewProcessor().Enrich(state)

	assert.Equal(t, 0, parked.ClassPosition)
	assert.Equal(t, "", leader.OverallGap)
}

func TestParseRaceTime(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
		ok   bool
	}{
		{"01:12:47.872", time.Hour + 12*time.Minute + 47*time.Second + 872*time.Millisecond, true},
		{"00:01:33.826", time.Minute + 33*time.Second + 826*time.Millisecond, true},
		{"12.500", 12*time.Second + 500*time.Millisecond, true},
		{"", 0, false},
		{"n/a", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := parseRaceTime(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}
