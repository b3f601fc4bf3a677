//nolint:errcheck // ok for this test code
package flagledger

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gotest.tools/v3/assert"

	"github.com/redmist-racing/timing-session-manager/pkg/model"
	"github.com/redmist-racing/timing-session-manager/testsupport/basedata"
	"github.com/redmist-racing/timing-session-manager/testsupport/testdb"
)

func createSampleEntries(db *pgxpool.Pool) {
	ctx := context.Background()
	start := basedata.TestTime()
	greenEnd := start.Add(10 * time.Minute)
	err := pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		if err := Create(ctx, tx, basedata.SampleEventID, basedata.SampleSessionID,
			basedata.SampleFlagDuration(model.FlagGreen, start, &greenEnd)); err != nil {
			return err
		}
		return Create(ctx, tx, basedata.SampleEventID, basedata.SampleSessionID,
			basedata.SampleFlagDuration(model.FlagYellow, greenEnd, nil))
	})
	if err != nil {
		log.Fatalf("createSampleEntries: %v\n", err)
	}
}

func TestCreateLoad(t *testing.T) {
	pool := testdb.InitTestDb()
	createSampleEntries(pool)
	ctx := context.Background()

	items, err := LoadBySession(ctx, pool,
		basedata.SampleEventID, basedata.SampleSessionID)
	assert.NilError(t, err)
	assert.Equal(t, 2, len(items))
	assert.Equal(t, model.FlagGreen, items[0].Flag)
	assert.Assert(t, items[0].EndTime != nil)
	assert.Equal(t, model.FlagYellow, items[1].Flag)
	assert.Assert(t, items[1].EndTime == nil)
}

func TestUpdateEndTime(t *testing.T) {
	pool := testdb.InitTestDb()
	createSampleEntries(pool)
	ctx := context.Background()

	yellowStart := basedata.TestTime().Add(10 * time.Minute)
	yellowEnd := yellowStart.Add(5 * time.Minute)
	num, err := UpdateEndTime(ctx, pool,
		basedata.SampleEventID, basedata.SampleSessionID,
		model.FlagYellow, yellowStart, yellowEnd)
	assert.NilError(t, err)
	assert.Equal(t, 1, num)

	items, err := LoadBySession(ctx, pool,
		basedata.SampleEventID, basedata.SampleSessionID)
	assert.NilError(t, err)
	assert.Assert(t, items[1].EndTime != nil)
	assert.Assert(t, items[1].EndTime.Equal(yellowEnd))
}

func TestUpdateEndTimeNoMatch(t *testing.T) {
	pool := testdb.InitTestDb()
	createSampleEntries(pool)
	ctx := context.Background()

	num, err := UpdateEndTime(ctx, pool,
		basedata.SampleEventID, basedata.SampleSessionID,
		model.FlagRed, basedata.TestTime(), basedata.TestTime())
	assert.NilError(t, err)
	assert.Equal(t, 0, num)
}

func TestDeleteBySession(t *testing.T) {
	pool := testdb.InitTestDb()
	createSampleEntries(pool)
	ctx := context.Background()

	num, err := DeleteBySession(ctx, pool,
		basedata.SampleEventID, basedata.SampleSessionID)
	assert.NilError(t, err)
	assert.Equal(t, 2, num)
}
