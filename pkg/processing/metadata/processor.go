package metadata

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/redmist-racing/timing-session-manager/log"
	"github.com/redmist-racing/timing-session-manager/pkg/model"
)

// Processor derives the ordering-dependent fields of the car list: gaps
// and differences (overall and in-class), class positions, best-time
// flags and positions-gained awards. It runs inside the pipeline's apply
// stage on the already-patched state.
type Processor struct {
	l *log.Logger
}

type Option func(*Processor)

func WithLogger(l *log.Logger) Option {
	return func(p *Processor) { p.l = l }
}

func NewProcessor(opts ...Option) *Processor {
	p := &Processor{l: log.Default().Named("processing.metadata")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enrich recomputes all derived fields in place. The caller must hold the
// write lock.
func (p *Processor) Enrich(state *model.SessionState) {
	ranked := rankedCars(state.CarPositions)

	computeGaps(ranked,
		func(c *model.CarPosition, v string) { c.OverallGap = v },
		func(c *model.CarPosition, v string) { c.OverallDifference = v })

	byClass := groupByClass(ranked)
	for _, group := range byClass {
		for i, car := range group {
			car.ClassPosition = i + 1
		}
		computeGaps(group,
			func(c *model.CarPosition, v string) { c.InClassGap = v },
			func(c *model.CarPosition, v string) { c.InClassDifference = v })
	}
	for _, car := range state.CarPositions {
		if car.OverallPosition <= 0 {
			car.ClassPosition = 0
		}
	}

	markBestTimes(state.CarPositions)
	computePositionsGained(state.CarPositions)
}

// rankedCars returns the cars holding a real position, sorted ascending.
// Position 0 means "not (yet) ranked" and is excluded from ordering math.
func rankedCars(cars []*model.CarPosition) []*model.CarPosition {
	ranked := lo.Filter(cars, func(c *model.CarPosition, _ int) bool {
		return c.OverallPosition > 0
	})
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].OverallPosition < ranked[j].OverallPosition
	})
	return ranked
}

func groupByClass(ranked []*model.CarPosition) [][]*model.CarPosition {
	order := make([]string, 0)
	groups := make(map[string][]*model.CarPosition)
	for _, car := range ranked {
		if _, ok := groups[car.Class]; !ok {
			order = append(order, car.Class)
		}
		groups[car.Class] = append(groups[car.Class], car)
	}
	return lo.Map(order, func(class string, _ int) []*model.CarPosition {
		return groups[class]
	})
}

// computeGaps fills gap (to the car ahead) and difference (to the leader)
// for one ranking. Cars with an unparsable total time keep their previous
// values; cars behind them compare against the nearest valid predecessor.
func computeGaps(ranked []*model.CarPosition,
	setGap, setDiff func(*model.CarPosition, string),
) {
	type reference struct {
		car   *model.CarPosition
		total time.Duration
	}
	var leader, ahead *reference
	for i, car := range ranked {
		total, ok := parseRaceTime(car.TotalTime)
		if i == 0 {
			setGap(car, "")
			setDiff(car, "")
			if ok {
				leader = &reference{car, total}
				ahead = leader
			}
			continue
		}
		if !ok {
			continue
		}
		if ahead != nil {
			setGap(car, formatDelta(car, ahead.car, total, ahead.total))
		}
		if leader != nil {
			setDiff(car, formatDelta(car, leader.car, total, leader.total))
		}
		ahead = &reference{car, total}
		if leader == nil {
			leader = ahead
		}
	}
}

// formatDelta renders the distance between car and the reference ahead of
// it. Differing lap counts render as laps; a negative time delta on the
// same lap means the ordering is stale and renders empty.
func formatDelta(car, ref *model.CarPosition, carTotal, refTotal time.Duration) string {
	if car.LastLapCompleted != ref.LastLapCompleted {
		return formatLapDelta(ref.LastLapCompleted - car.LastLapCompleted)
	}
	delta := carTotal - refTotal
	if delta < 0 {
		return ""
	}
	return formatRaceDelta(delta)
}

func formatLapDelta(laps int) string {
	if laps == 1 {
		return "1 lap"
	}
	return fmt.Sprintf("%d laps", laps)
}

func formatRaceDelta(delta time.Duration) string {
	if delta < time.Minute {
		return fmt.Sprintf("%.3f", delta.Seconds())
	}
	minutes := delta / time.Minute
	return fmt.Sprintf("%d:%06.3f", minutes, (delta - minutes*time.Minute).Seconds())
}

// parseRaceTime reads the "HH:MM:SS.mmm" race time strings of the feeds.
// Shorter "MM:SS.mmm" and bare seconds variants parse as well.
func parseRaceTime(arg string) (time.Duration, bool) {
	if strings.TrimSpace(arg) == "" {
		return 0, false
	}
	parts := strings.Split(strings.TrimSpace(arg), ":")
	if len(parts) > 3 {
		return 0, false
	}
	total := time.Duration(0)
	for _, part := range parts {
		seconds, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return 0, false
		}
		total = total*60 + time.Duration(seconds*float64(time.Second))
	}
	return total, true
}

// markBestTimes flags the fastest car overall and per class. Zero or
// missing best times never win.
func markBestTimes(cars []*model.CarPosition) {
	best := findBest(cars)
	classBest := make(map[string]*model.CarPosition)
	for _, group := range lo.GroupBy(cars, func(c *model.CarPosition) string {
		return c.Class
	}) {
		if winner := findBest(group); winner != nil {
			classBest[winner.Class] = winner
		}
	}
	for _, car := range cars {
		car.IsBestTime = car == best
		car.IsBestTimeClass = car == classBest[car.Class]
	}
}

func findBest(cars []*model.CarPosition) *model.CarPosition {
	var winner *model.CarPosition
	var winning time.Duration
	for _, car := range cars {
		t, ok := parseRaceTime(car.BestTime)
		if !ok || t == 0 {
			continue
		}
		if winner == nil || t < winning {
			winner = car
			winning = t
		}
	}
	return winner
}

// computePositionsGained derives the start-to-now deltas and the "most
// positions gained" awards. A missing starting or current position makes
// the delta invalid. The award needs a strictly largest positive gain;
// ties leave it unassigned.
func computePositionsGained(cars []*model.CarPosition) {
	for _, car := range cars {
		car.OverallPositionsGained = gained(car.OverallStartingPosition, car.OverallPosition)
		car.InClassPositionsGained = gained(car.InClassStartingPosition, car.ClassPosition)
	}

	mostOverall := mostGained(cars, func(c *model.CarPosition) int {
		return c.OverallPositionsGained
	})
	for _, car := range cars {
		car.IsOverallMostPositionsGained = car == mostOverall
	}

	classMost := make(map[string]*model.CarPosition)
	for class, group := range lo.GroupBy(cars, func(c *model.CarPosition) string {
		return c.Class
	}) {
		classMost[class] = mostGained(group, func(c *model.CarPosition) int {
			return c.InClassPositionsGained
		})
	}
	for _, car := range cars {
		most := classMost[car.Class]
		car.IsClassMostPositionsGained = most != nil && car == most
	}
}

func gained(start, current int) int {
	if start == 0 || current == 0 {
		return model.InvalidPosition
	}
	return start - current
}

func mostGained(cars []*model.CarPosition, gain func(*model.CarPosition) int) *model.CarPosition {
	var winner *model.CarPosition
	winning := 0
	tied := false
	for _, car := range cars {
		g := gain(car)
		if g == model.InvalidPosition || g <= 0 {
			continue
		}
		switch {
		case winner == nil || g > winning:
			winner = car
			winning = g
			tied = false
		case g == winning:
			tied = true
		}
	}
	if tied {
		return nil
	}
	return winner
}
