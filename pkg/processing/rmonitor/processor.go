package rmonitor

import (
	"context"
	"strconv"
	"strings"

	"github.com/redmist-racing/timing-session-manager/log"
	"github.com/redmist-racing/timing-session-manager/pkg/model"
	"github.com/redmist-racing/timing-session-manager/pkg/processing"
	"github.com/redmist-racing/timing-session-manager/pkg/session"
)

const SourceName = "rmonitor"

// Processor parses "$"-prefixed line-protocol records. One payload may
// carry several CRLF-separated records; they are handled in order.
//
// The internal lookups (registration number, class names, transponders)
// are rebuilt from competitor and class records as they arrive. The
// pipeline guarantees a single Process call in flight per tag, so no
// locking is needed here.
type Processor struct {
	sessionCtx    *session.Context
	numberByRegNo map[string]string
	classNames    map[int]string
	transponders  map[int]string
	l             *log.Logger
}

type Option func(*Processor)

func WithLogger(l *log.Logger) Option {
	return func(p *Processor) { p.l = l }
}

func NewProcessor(sessionCtx *session.Context, opts ...Option) *Processor {
	p := &Processor{
		sessionCtx:    sessionCtx,
		numberByRegNo: make(map[string]string),
		classNames:    make(map[int]string),
		transponders:  make(map[int]string),
		l:             log.Default().Named("processing.rmonitor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

//nolint:gocognit // record dispatch
func (p *Processor) Process(ctx context.Context, msg *model.TimingMessage) (
	*processing.SessionStateUpdate, error,
) {
	snap, err := p.sessionCtx.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	update := &processing.SessionStateUpdate{Source: SourceName}
	for _, line := range strings.Split(string(msg.Payload), "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, "$") {
			continue
		}
		fields := splitRecord(line)
		switch fields[0] {
		case "$F":
			p.processHeartbeat(fields, snap, update)
		case "$A":
			p.processCompetitor(fields, snap, msg, update)
		case "$COMP":
			p.processCompetitorExt(fields, snap, msg, update)
		case "$B":
			p.processRun(fields, snap, update)
		case "$C":
			p.processClass(fields)
		case "$G":
			p.processRaceInfo(fields, snap, msg, update)
		case "$H":
			p.processPracticeBest(fields, snap, msg, update)
		case "$I":
			p.processInit()
		case "$J":
			p.processPassingTime(fields, snap, msg, update)
		default:
			// setting records and vendor extensions carry nothing we track
		}
	}
	if update.Empty() {
		return nil, nil
	}
	return update, nil
}

// $F,<lapsToGo>,<timeToGo>,<timeOfDay>,<raceTime>,<flagStatus>
func (p *Processor) processHeartbeat(fields []string,
	snap *model.SessionState, update *processing.SessionStateUpdate,
) {
	if len(fields) < 6 {
		p.l.Debug("short heartbeat record", log.Int("fields", len(fields)))
		return
	}
	flag := model.ParseFlag(fields[5])
	patch := &processing.HeartbeatPatch{
		LapsToGo:        diff(snap.LapsToGo, atoi(fields[1])),
		TimeToGo:        diff(snap.TimeToGo, fields[2]),
		LocalTimeOfDay:  diff(snap.LocalTimeOfDay, fields[3]),
		RunningRaceTime: diff(snap.RunningRaceTime, fields[4]),
		Flag:            diff(snap.CurrentFlag, flag),
	}
	if patch.LapsToGo != nil || patch.TimeToGo != nil ||
		patch.LocalTimeOfDay != nil || patch.RunningRaceTime != nil ||
		patch.Flag != nil {
		update.Patches = append(update.Patches, patch)
	}
}

// $A,<regNo>,<number>,<transponder>,<firstName>,<lastName>,<nationality>,<classId>
func (p *Processor) processCompetitor(fields []string,
	snap *model.SessionState, msg *model.TimingMessage,
	update *processing.SessionStateUpdate,
) {
	if len(fields) < 8 {
		p.l.Debug("short competitor record", log.Int("fields", len(fields)))
		return
	}
	number := fields[2]
	if number == "" {
		return
	}
	p.numberByRegNo[fields[1]] = number
	transponder := atoi(fields[3])
	if transponder > 0 {
		p.transponders[transponder] = number
	}
	p.emitCompetitor(snap, msg, update, competitorData{
		number:      number,
		name:        joinName(fields[4], fields[5]),
		class:       p.classNames[atoi(fields[7])],
		transponder: transponder,
	})
}

// $COMP,<regNo>,<number>,<classId>,<firstName>,<lastName>,<nationality>,<team>
func (p *Processor) processCompetitorExt(fields []string,
	snap *model.SessionState, msg *model.TimingMessage,
	update *processing.SessionStateUpdate,
) {
	if len(fields) < 8 {
		p.l.Debug("short competitor record", log.Int("fields", len(fields)))
		return
	}
	number := fields[2]
	if number == "" {
		return
	}
	p.numberByRegNo[fields[1]] = number
	p.emitCompetitor(snap, msg, update, competitorData{
		number: number,
		name:   joinName(fields[4], fields[5]),
		class:  p.classNames[atoi(fields[3])],
		team:   fields[7],
	})
}

type competitorData struct {
	number      string
	name        string
	class       string
	team        string
	transponder int
}

func (p *Processor) emitCompetitor(snap *model.SessionState,
	msg *model.TimingMessage, update *processing.SessionStateUpdate,
	data competitorData,
) {
	patch := &processing.CompetitorPatch{Number: data.number, Stamp: msg.Timestamp}
	entry := snap.EntryByNumber(data.number)
	if entry == nil {
		entry = &model.EventEntry{Number: data.number}
	}
	patch.Name = diff(entry.Name, data.name)
	if data.team != "" {
		patch.Team = diff(entry.Team, data.team)
	}
	if data.class != "" {
		patch.Class = diff(entry.Class, data.class)
	}
	if data.transponder > 0 {
		cur := 0
		if car := snap.CarByNumber(data.number); car != nil {
			cur = car.TransponderID
		}
		patch.TransponderID = diff(cur, data.transponder)
	}
	if patch.Name != nil || patch.Team != nil || patch.Class != nil ||
		patch.TransponderID != nil {
		update.Patches = append(update.Patches, patch)
	}
}

// $B,<sessionNumber>,<sessionName>
func (p *Processor) processRun(fields []string,
	snap *model.SessionState, update *processing.SessionStateUpdate,
) {
	if len(fields) < 3 {
		return
	}
	id := atoi(fields[1])
	name := fields[2]
	if id == snap.SessionID && name == snap.SessionName {
		return
	}
	update.SessionChange = &processing.SessionChange{SessionID: id, SessionName: name}
}

// $C,<classId>,<description>
func (p *Processor) processClass(fields []string) {
	if len(fields) < 3 {
		return
	}
	p.classNames[atoi(fields[1])] = fields[2]
}

// $G,<position>,<transponderHex>,<laps>,<totalTime>
func (p *Processor) processRaceInfo(fields []string,
	snap *model.SessionState, msg *model.TimingMessage,
	update *processing.SessionStateUpdate,
) {
	if len(fields) < 5 {
		p.l.Debug("short race info record", log.Int("fields", len(fields)))
		return
	}
	transponder, err := strconv.ParseInt(fields[2], 16, 64)
	if err != nil {
		p.l.Debug("unparsable transponder", log.String("raw", fields[2]))
		return
	}
	number := p.transponders[int(transponder)]
	if number == "" {
		// car not announced yet, the next competitor record self-corrects
		return
	}
	patch := &processing.RaceInfoPatch{Number: number, Stamp: msg.Timestamp}
	car := snap.CarByNumber(number)
	if car == nil {
		car = &model.CarPosition{Number: number}
	}
	patch.OverallPosition = diff(car.OverallPosition, atoi(fields[1]))
	patch.Laps = diff(car.LastLapCompleted, atoi(fields[3]))
	if fields[4] != "" {
		patch.TotalTime = diff(car.TotalTime, fields[4])
	}
	if patch.OverallPosition != nil || patch.Laps != nil || patch.TotalTime != nil {
		update.Patches = append(update.Patches, patch)
	}
}

// $H,<rank>,<regNo>,<bestLap>,<bestTime>
func (p *Processor) processPracticeBest(fields []string,
	snap *model.SessionState, msg *model.TimingMessage,
	update *processing.SessionStateUpdate,
) {
	if len(fields) < 5 {
		return
	}
	number := p.numberByRegNo[fields[2]]
	if number == "" {
		return
	}
	patch := &processing.BestTimePatch{Number: number, Stamp: msg.Timestamp}
	car := snap.CarByNumber(number)
	if car == nil {
		car = &model.CarPosition{Number: number}
	}
	patch.BestLap = diff(car.BestLap, atoi(fields[3]))
	patch.BestTime = diff(car.BestTime, fields[4])
	if patch.BestLap != nil || patch.BestTime != nil {
		update.Patches = append(update.Patches, patch)
	}
}

// $I marks a timing system restart; competitor and class records will be
// re-sent, so the stale lookups go away.
func (p *Processor) processInit() {
	p.l.Info("timing system init record received")
	p.numberByRegNo = make(map[string]string)
	p.classNames = make(map[int]string)
	p.transponders = make(map[int]string)
}

// $J,<regNo>,<lapTime>,<totalTime>
func (p *Processor) processPassingTime(fields []string,
	snap *model.SessionState, msg *model.TimingMessage,
	update *processing.SessionStateUpdate,
) {
	if len(fields) < 4 {
		return
	}
	number := p.numberByRegNo[fields[1]]
	if number == "" {
		return
	}
	patch := &processing.LapTimePatch{Number: number, Stamp: msg.Timestamp}
	car := snap.CarByNumber(number)
	if car == nil {
		car = &model.CarPosition{Number: number}
	}
	patch.LastLapTime = diff(car.LastLapTime, fields[2])
	patch.TotalTime = diff(car.TotalTime, fields[3])
	if patch.LastLapTime != nil || patch.TotalTime != nil {
		update.Patches = append(update.Patches, patch)
	}
}

// splitRecord splits one protocol line on commas, honoring double quoted
// fields. Quotes are stripped from the result.
func splitRecord(line string) []string {
	fields := make([]string, 0, 8)
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case c == '"':
			inQuote = !inQuote
		case c == ',' && !inQuote:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	fields = append(fields, cur.String())
	return fields
}

func diff[T comparable](cur, val T) *T {
	if cur == val {
		return nil
	}
	return &val
}

func atoi(arg string) int {
	val, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return 0
	}
	return val
}

func joinName(first, last string) string {
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
