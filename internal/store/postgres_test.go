package store

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intent-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &PostgresStore{pool: mock}, mock
}

var runColumnNames = []string{"id", "input", "status", "error", "dir", "result", "created_at", "updated_at"}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "idle", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), model.RunInput{Company: "Acme"})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "Acme", run.Input.Company)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	input, _ := json.Marshal(model.RunInput{Company: "Acme"})
	result, _ := json.Marshal(model.RunResult{Accepted: 7, UniqueIntents: 3})

	mock.ExpectQuery(regexp.QuoteMeta(preparedStatements["get_run"])).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(runColumnNames).
			AddRow("run-1", input, "complete", "", "runs/Acme/p", result, now, now))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, "Acme", run.Input.Company)
	assert.Equal(t, "runs/Acme/p", run.Dir)
	require.NotNil(t, run.Result)
	assert.Equal(t, 3, run.Result.UniqueIntents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, input, status, error, dir, result, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("assigning", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing", model.RunStatusAssigning)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET error`).
		WithArgs("consumer gone", "failed", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailRun(context.Background(), "run-1", "consumer gone"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	input, _ := json.Marshal(model.RunInput{Company: "Acme"})

	mock.ExpectQuery(`FROM runs WHERE true AND status = \$1 AND input->>'company' = \$2 ORDER BY created_at DESC, id LIMIT \$3 OFFSET \$4`).
		WithArgs("failed", "Acme", 10, 20).
		WillReturnRows(pgxmock.NewRows(runColumnNames).
			AddRow("run-1", input, "failed", "boom", "", nil, now, now).
			AddRow("run-2", input, "failed", "boom", "", nil, now, now))

	runs, err := s.ListRuns(context.Background(), RunFilter{
		Status:  model.RunStatusFailed,
		Company: "Acme",
		Limit:   10,
		Offset:  20,
	})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "boom", runs[0].Error)
	assert.Nil(t, runs[1].Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_DefaultLimit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM runs WHERE true ORDER BY created_at DESC, id LIMIT \$1`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows(runColumnNames))

	runs, err := s.ListRuns(context.Background(), RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_CreatedAfter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM runs WHERE true AND created_at >= \$1 ORDER BY created_at DESC, id LIMIT \$2`).
		WithArgs(cutoff, 500).
		WillReturnRows(pgxmock.NewRows(runColumnNames))

	_, err := s.ListRuns(context.Background(), RunFilter{CreatedAfter: cutoff, Limit: 500})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Phases(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO run_phases`).
		WithArgs(pgxmock.AnyArg(), "run-1", "assign", "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE run_phases SET status`).
		WithArgs("failed", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	phase, err := s.CreatePhase(ctx, "run-1", "assign")
	require.NoError(t, err)
	require.NoError(t, s.CompletePhase(ctx, phase.ID, &model.PhaseResult{Name: "assign", Status: model.PhaseStatusFailed, Error: "canceled"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS runs`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
