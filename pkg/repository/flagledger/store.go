package flagledger

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redmist-racing/timing-session-manager/pkg/model"
)

// Store binds the flag ledger queries to a pool.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) LoadBySession(ctx context.Context, eventID, sessionID int) (
	[]*model.FlagDuration, error,
) {
	return LoadBySession(ctx, s.pool, eventID, sessionID)
}

func (s *Store) Insert(ctx context.Context, eventID, sessionID int,
	item *model.FlagDuration,
) error {
	return Create(ctx, s.pool, eventID, sessionID, item)
}

func (s *Store) UpdateEndTime(ctx context.Context, eventID, sessionID int,
	flag model.Flag, startTime, endTime time.Time,
) error {
	_, err := UpdateEndTime(ctx, s.pool, eventID, sessionID, flag, startTime, endTime)
	return err
}
