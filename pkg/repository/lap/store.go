package lap

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redmist-racing/timing-session-manager/pkg/model"
)

// Store binds the lap log queries to a pool.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Append(ctx context.Context, record *model.LapRecord) error {
	return Create(ctx, s.pool, record)
}

func (s *Store) LoadByMaxLap(ctx context.Context, eventID, sessionID, maxLap int) (
	[]*model.LapRecord, error,
) {
	return LoadByMaxLap(ctx, s.pool, eventID, sessionID, maxLap)
}
