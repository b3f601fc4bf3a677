package rmonitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmist-racing/timing-session-manager/pkg/model"
	"github.com/redmist-racing/timing-session-manager/pkg/processing"
	"github.com/redmist-racing/timing-session-manager/pkg/session"
)

func testMessage(payload string) *model.TimingMessage {
	return &model.TimingMessage{
		Tag:       model.TagLineProtocol,
		Payload:   []byte(payload),
		Timestamp: time.Date(2026, 5, 3, 14, 0, 0, 0, time.UTC),
	}
}

func applyUpdate(t *testing.T, sc *session.Context, update *processing.SessionStateUpdate) {
	t.Helper()
	release, err := sc.AcquireWriteLock(context.Background())
	require.NoError(t, err)
	defer release()
	for _, patch := range update.Patches {
		patch.Apply(sc.State())
	}
}

func TestProcessHeartbeat(t *testing.T) {
	sc := session.NewContext(context.Background(), 1, "Test Event")
	p := NewProcessor(sc)

	update, err := p.Process(context.Background(),
		testMessage(`$F,14,"00:12:45","13:34:23","00:09:47","Green "`))
	require.NoError(t, err)
	require.Len(t, update.Patches, 1)

	hb, ok := update.Patches[0].(*processing.HeartbeatPatch)
	require.True(t, ok)
	require.NotNil(t, hb.LapsToGo)
	assert.Equal(t, 14, *hb.LapsToGo)
	require.NotNil(t, hb.Flag)
	assert.Equal(t, model.FlagGreen, *hb.Flag)
	assert.Equal(t, "00:12:45", *hb.TimeToGo)
	assert.Equal(t, "00:09:47", *hb.RunningRaceTime)
}

func TestProcessHeartbeatUnchanged(t *testing.T) {
	sc := session.NewContext(context.Background(), 1, "Test Event")
	p := NewProcessor(sc)

	msg := testMessage(`$F,14,"00:12:45","13:34:23","00:09:47","Green "`)
	update, err := p.Process(context.Background(), msg)
	require.NoError(t, err)
	applyUpdate(t, sc, update)

	// identical heartbeat must not produce an update
	update, err = p.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Nil(t, update)
}

func TestProcessHeartbeatFlagMapping(t *testing.T) {
	tests := []struct {
		raw  string
		want model.Flag
	}{
		{"Green ", model.FlagGreen},
		{"Yellow", model.FlagYellow},
		{"Red   ", model.FlagRed},
		{"White ", model.FlagWhite},
		{"Finish", model.FlagCheckered},
		{"Warmup", model.FlagUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			sc := session.NewContext(context.Background(), 1, "Test Event")
			p := NewProcessor(sc)
			update, err := p.Process(context.Background(),
				testMessage(`$F,9999,"00:00:00","00:00:00","00:00:00","`+tt.raw+`"`))
			require.NoError(t, err)
			require.Len(t, update.Patches, 1)
			hb := update.Patches[0].(*processing.HeartbeatPatch)
			if tt.want == model.FlagUnknown {
				assert.Nil(t, hb.Flag)
			} else {
				require.NotNil(t, hb.Flag)
				assert.Equal(t, tt.want, *hb.Flag)
			}
		})
	}
}

func TestProcessCompetitorAndRaceInfo(t *testing.T) {
	sc := session.NewContext(context.Background(), 1, "Test Event")
	p := NewProcessor(sc)

	payload := "$C,5,\"GT3\"\r\n" +
		"$A,\"1234BE\",\"12\",52474,\"John\",\"Johnson\",\"USA\",5\r\n"
	update, err := p.Process(context.Background(), testMessage(payload))
	require.NoError(t, err)
	require.Len(t, update.Patches, 1)

	comp := update.Patches[0].(*processing.CompetitorPatch)
	assert.Equal(t, "12", comp.Number)
	assert.Equal(t, "John Johnson", *comp.Name)
	assert.Equal(t, "GT3", *comp.Class)
	assert.Equal(t, 52474, *comp.TransponderID)
	applyUpdate(t, sc, update)

	// 52474 == 0xCCFA
	update, err = p.Process(context.Background(),
		testMessage(`$G,3,"CCFA",14,"01:12:47.872"`))
	require.NoError(t, err)
	require.Len(t, update.Patches, 1)

	info := update.Patches[0].(*processing.RaceInfoPatch)
	assert.Equal(t, "12", info.Number)
	assert.Equal(t, 3, *info.OverallPosition)
	assert.Equal(t, 14, *info.Laps)
	assert.Equal(t, "01:12:47.872", *info.TotalTime)
}

func TestProcessRaceInfoUnknownTransponder(t *testing.T) {
	sc := session.NewContext(context.Background(), 1, "Test Event")
	p := NewProcessor(sc)

	update, err := p.Process(context.Background(),
		testMessage(`$G,3,"CCFA",14,"01:12:47.872"`))
	require.NoError(t, err)
	assert.Nil(t, update)
}

func TestProcessRunRecord(t *testing.T) {
	sc := session.NewContext(context.Background(), 1, "Test Event")
	p := NewProcessor(sc)

	update, err := p.Process(context.Background(),
		testMessage(`$B,5,"Friday free practice"`))
	require.NoError(t, err)
	require.NotNil(t, update.SessionChange)
	assert.Equal(t, 5, update.SessionChange.SessionID)
	assert.Equal(t, "Friday free practice", update.SessionChange.SessionName)
}

func TestProcessPracticeBest(t *testing.T) {
	sc := session.NewContext(context.Background(), 1, "Test Event")
	p := NewProcessor(sc)

	payload := "$A,\"1234BE\",\"12\",52474,\"John\",\"Johnson\",\"USA\",5\r\n" +
		"$H,2,\"1234BE\",3,\"00:01:33.826\"\r\n"
	update, err := p.Process(context.Background(), testMessage(payload))
	require.NoError(t, err)
	require.Len(t, update.Patches, 2)

	best := update.Patches[1].(*processing.BestTimePatch)
	assert.Equal(t, "12", best.Number)
	assert.Equal(t, 3, *best.BestLap)
	assert.Equal(t, "00:01:33.826", *best.BestTime)
}

func TestProcessPassingTime(t *testing.T) {
	sc := session.NewContext(context.Background(), 1, "Test Event")
	p := NewProcessor(sc)

	payload := "$A,\"1234BE\",\"12\",52474,\"John\",\"Johnson\",\"USA\",5\r\n" +
		"$J,\"1234BE\",\"00:02:03.826\",\"01:42:17.672\"\r\n"
	update, err := p.Process(context.Background(), testMessage(payload))
	require.NoError(t, err)
	require.Len(t, update.Patches, 2)

	lap := update.Patches[1].(*processing.LapTimePatch)
	assert.Equal(t, "12", lap.Number)
	assert.Equal(t, "00:02:03.826", *lap.LastLapTime)
	assert.Equal(t, "01:42:17.672", *lap.TotalTime)
}

func TestProcessInitClearsLookups(t *testing.T) {
	sc := session.NewContext(context.Background(), 1, "Test Event")
	p := NewProcessor(sc)

	payload := "$A,\"1234BE\",\"12\",52474,\"John\",\"Johnson\",\"USA\",5\r\n"
	_, err := p.Process(context.Background(), testMessage(payload))
	require.NoError(t, err)

	_, err = p.Process(context.Background(),
		testMessage(`$I,"16:36:08.000","12 jan 26"`))
	require.NoError(t, err)

	// transponder no longer resolvable after init
	update, err := p.Process(context.Background(),
		testMessage(`$G,3,"CCFA",14,"01:12:47.872"`))
	require.NoError(t, err)
	assert.Nil(t, update)
}

func TestProcessMalformedLines(t *testing.T) {
	sc := session.NewContext(context.Background(), 1, "Test Event")
	p := NewProcessor(sc)

	payload := "garbage\r\n$F,14\r\n$ZZ,1,2\r\n"
	update, err := p.Process(context.Background(), testMessage(payload))
	require.NoError(t, err)
	assert.Nil(t, update)
}

func TestSplitRecord(t *testing.T) {
	fields := splitRecord(`$A,"1234BE","12",52474,"John","Johnson","USA",5`)
	assert.Equal(t,
		[]string{"$A", "1234BE", "12", "52474", "John", "Johnson", "USA", "5"},
		fields)

	fields = splitRecord(`$C,5,"Formula 300, Group B"`)
	assert.Equal(t, []string{"$C", "5", "Formula 300, Group B"}, fields)
}
