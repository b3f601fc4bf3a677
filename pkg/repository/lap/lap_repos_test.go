//nolint:errcheck // ok for this test code
package lap

import (
	"context"
	"log"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gotest.tools/v3/assert"

	"github.com/redmist-racing/timing-session-manager/testsupport/basedata"
	"github.com/redmist-racing/timing-session-manager/testsupport/testdb"
)

func createSampleEntries(db *pgxpool.Pool) {
	ctx := context.Background()
	err := pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		for lap := 1; lap <= 5; lap++ {
			if err := Create(ctx, tx, basedata.SampleLapRecord("10", lap)); err != nil {
				return err
			}
		}
		return Create(ctx, tx, basedata.SampleLapRecord("12", 1))
	})
	if err != nil {
		log.Fatalf("createSampleEntries: %v\n", err)
	}
}

func TestCreateLoad(t *testing.T) {
	pool := testdb.InitTestDb()
	createSampleEntries(pool)
	ctx := context.Background()

	records, err := LoadByMaxLap(ctx, pool,
		basedata.SampleEventID, basedata.SampleSessionID, 3)
	assert.NilError(t, err)
	// laps 1-3 of car 10 plus lap 1 of car 12
	assert.Equal(t, 4, len(records))
	assert.Equal(t, "10", records[0].CarNumber)
	assert.Equal(t, 1, records[0].LapNumber)
	assert.DeepEqual(t,
		basedata.SampleLapRecord("10", 1).Position, records[0].Position)
}

func TestLoadOtherSession(t *testing.T) {
	pool := testdb.InitTestDb()
	createSampleEntries(pool)
	ctx := context.Background()

	records, err := LoadByMaxLap(ctx, pool, basedata.SampleEventID, 99, 10)
	assert.NilError(t, err)
	assert.Equal(t, 0, len(records))
}

func TestDeleteBySession(t *testing.T) {
	pool := testdb.InitTestDb()
	createSampleEntries(pool)
	ctx := context.Background()

	num, err := DeleteBySession(ctx, pool,
		basedata.SampleEventID, basedata.SampleSessionID)
	assert.NilError(t, err)
	assert.Equal(t, 6, num)
}
