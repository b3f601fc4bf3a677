//nolint:errcheck // ok for this test code
package loopmeta

import (
	"context"
	"log"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gotest.tools/v3/assert"

	"github.com/redmist-racing/timing-session-manager/pkg/model"
	"github.com/redmist-racing/timing-session-manager/testsupport/basedata"
	"github.com/redmist-racing/timing-session-manager/testsupport/testdb"
)

func createSampleEntries(db *pgxpool.Pool) {
	ctx := context.Background()
	err := pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		for i := range basedata.SampleLoops() {
			loop := basedata.SampleLoops()[i]
			if err := Create(ctx, tx, basedata.SampleEventID, &loop); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("createSampleEntries: %v\n", err)
	}
}

func TestCreateLoad(t *testing.T) {
	pool := testdb.InitTestDb()
	createSampleEntries(pool)
	ctx := context.Background()

	loops, err := LoadByEventID(ctx, pool, basedata.SampleEventID)
	assert.NilError(t, err)
	assert.DeepEqual(t, basedata.SampleLoops(), loops)
}

func TestLoadUnknownEvent(t *testing.T) {
	pool := testdb.InitTestDb()
	createSampleEntries(pool)
	ctx := context.Background()

	loops, err := LoadByEventID(ctx, pool, 9999)
	assert.NilError(t, err)
	assert.Equal(t, 0, len(loops))
}

func TestDuplicateLoop(t *testing.T) {
	pool := testdb.InitTestDb()
	createSampleEntries(pool)
	ctx := context.Background()

	err := Create(ctx, pool, basedata.SampleEventID,
		&model.LoopMetadata{LoopID: 1, Role: model.LoopRoleOther, Name: "dup"})
	assert.Assert(t, err != nil)
}

func TestDeleteByEventID(t *testing.T) {
	pool := testdb.InitTestDb()
	createSampleEntries(pool)
	ctx := context.Background()

	num, err := DeleteByEventID(ctx, pool, basedata.SampleEventID)
	assert.NilError(t, err)
	assert.Equal(t, 4, num)
}
