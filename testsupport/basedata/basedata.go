package basedata

import (
	"time"

	"github.com/redmist-racing/timing-session-manager/pkg/model"
)

const (
	SampleEventID   = 42
	SampleSessionID = 7
)

func TestTime() time.Time {
	t, _ := time.Parse(time.RFC3339, "2025-04-28T11:10:12Z")
	return t
}

func SampleLoops() []model.LoopMetadata {
	return []model.LoopMetadata{
		{LoopID: 1, Role: model.LoopRoleOther, Name: "StartFinish"},
		{LoopID: 2, Role: model.LoopRolePitIn, Name: "PitIn"},
		{LoopID: 3, Role: model.LoopRolePitExit, Name: "PitExit"},
		{LoopID: 4, Role: model.LoopRoleOther, Name: "BackStraight"},
	}
}

func SampleLapRecord(carNumber string, lapNumber int) *model.LapRecord {
	return &model.LapRecord{
		EventID:   SampleEventID,
		SessionID: SampleSessionID,
		CarNumber: carNumber,
		LapNumber: lapNumber,
		Flag:      model.FlagGreen,
		Position: &model.CarPosition{
			Number:           carNumber,
			Class:            "GT3",
			OverallPosition:  1,
			LastLapCompleted: lapNumber,
			LastLapTime:      "1:02.345",
			TotalTime:        "14:23.456",
			TrackFlag:        model.FlagGreen,
			LastUpdated:      TestTime(),
		},
		RecordStamp: TestTime().Add(time.Duration(lapNumber) * time.Minute),
	}
}

func SampleFlagDuration(flag model.Flag, start time.Time, end *time.Time,
) *model.FlagDuration {
	return &model.FlagDuration{Flag: flag, StartTime: start, EndTime: end}
}
