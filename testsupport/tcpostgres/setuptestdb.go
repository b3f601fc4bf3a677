//nolint:errcheck // testsetup
package tcpostgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/wait"

	database "github.com/redmist-racing/timing-session-manager/pkg/db/postgres"
)

// create a pg connection pool for the timing testdatabase
func SetupTestDb() *pgxpool.Pool {
	ctx := context.Background()
	port, err := nat.NewPort("tcp", "5432")
	if err != nil {
		log.Fatal(err)
	}
	container, err := SetupPostgres(ctx,
		WithPort(port.Port()),
		WithInitialDatabase("postgres", "password", "postgres"),
		WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
		WithName("timing-session-manager-test"),
	)
	if err != nil {
		log.Fatal(err)
	}
	containerPort, _ := container.MappedPort(ctx, port)
	host, _ := container.Host(ctx)
	dbURL := fmt.Sprintf("postgresql://postgres:password@%s:%s/postgres",
		host, containerPort.Port())

	return initPool(ctx, dbURL)
}

// SetupExternalTestDb connects to the database named by TESTDB_URL instead
// of starting a container. Useful on CI runners with a provisioned database.
func SetupExternalTestDb() *pgxpool.Pool {
	return initPool(context.Background(), os.Getenv("TESTDB_URL"))
}

func initPool(ctx context.Context, dbURL string) *pgxpool.Pool {
	pool, err := database.InitWithURL(ctx, dbURL)
	if err != nil {
		log.Fatal(err)
	}
	if err := createSchema(ctx, pool); err != nil {
		log.Fatal(err)
	}
	return pool
}

// createSchema bootstraps the tables used by the repositories. Idempotent,
// so containers reused across test packages stay valid.
func createSchema(ctx context.Context, pool *pgxpool.Pool) error {
	ddl := []string{
		`create table if not exists lap_log (
			id bigint generated always as identity primary key,
			event_id int not null,
			session_id int not null,
			car_number text not null,
			lap_number int not null,
			flag int not null,
			data jsonb,
			record_stamp timestamptz not null
		)`,
		`create index if not exists idx_lap_log_session
			on lap_log (event_id, session_id, lap_number)`,
		`create table if not exists flag_ledger (
			id bigint generated always as identity primary key,
			event_id int not null,
			session_id int not null,
			flag int not null,
			start_time timestamptz not null,
			end_time timestamptz
		)`,
		`create index if not exists idx_flag_ledger_session
			on flag_ledger (event_id, session_id, start_time)`,
		`create table if not exists event_loop (
			event_id int not null,
			loop_id int not null,
			role text not null,
			name text not null,
			primary key (event_id, loop_id)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func ClearLapLogTable(pool *pgxpool.Pool) {
	pool.Exec(context.Background(), "delete from lap_log")
}

func ClearFlagLedgerTable(pool *pgxpool.Pool) {
	pool.Exec(context.Background(), "delete from flag_ledger")
}

func ClearEventLoopTable(pool *pgxpool.Pool) {
	pool.Exec(context.Background(), "delete from event_loop")
}

func ClearAllTables(pool *pgxpool.Pool) {
	ClearLapLogTable(pool)
	ClearFlagLedgerTable(pool)
	ClearEventLoopTable(pool)
}
