package executor

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/wardsql/internal/testutil"
)

type fakeSession struct {
	db       *sql.DB
	prepared int
	prepErr  error
}

func (f *fakeSession) DB() *sql.DB { return f.db }

func (f *fakeSession) PrepareSession(ctx context.Context, conn *sql.Conn, timeout time.Duration) error {
	f.prepared++
	return f.prepErr
}

func newMockExecutor(t *testing.T, budget Budget) (*Executor, sqlmock.Sqlmock, *fakeSession) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	session := &fakeSession{db: db}
	return New(session, budget, testutil.NewTestLogger(t)), mock, session
}

func TestRunCollectsRows(t *testing.T) {
	exec, mock, session := newMockExecutor(t, DefaultBudget())

	mock.ExpectQuery("SELECT dept_code").WillReturnRows(
		sqlmock.NewRows([]string{"dept_code", "visits"}).
			AddRow([]byte("OPD"), 120).
			AddRow([]byte("ER"), 45))

	res, err := exec.Run(context.Background(), "SELECT dept_code, COUNT(*) FROM ovst GROUP BY dept_code")
	require.NoError(t, err)

	assert.Equal(t, []string{"dept_code", "visits"}, res.Columns)
	assert.Equal(t, 2, res.RowCount)
	assert.False(t, res.Truncated)
	// Byte slices come back as strings.
	assert.Equal(t, "OPD", res.Rows[0]["dept_code"])
	assert.Equal(t, int64(120), res.Rows[0]["visits"])
	assert.Equal(t, 1, session.prepared)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunTruncatesAtRowCap(t *testing.T) {
	exec, mock, _ := newMockExecutor(t, Budget{Timeout: time.Second, RowCap: 2})

	mock.ExpectQuery("SELECT vn").WillReturnRows(
		sqlmock.NewRows([]string{"vn"}).AddRow("a").AddRow("b").AddRow("c"))

	res, err := exec.Run(context.Background(), "SELECT vn FROM ovst LIMIT 2000")
	require.NoError(t, err)

	assert.Equal(t, 2, res.RowCount)
	assert.Len(t, res.Rows, 2)
	assert.True(t, res.Truncated)
}

func TestRunDatabaseError(t *testing.T) {
	exec, mock, _ := newMockExecutor(t, DefaultBudget())

	mock.ExpectQuery("SELECT bogus").WillReturnError(assert.AnError)

	_, err := exec.Run(context.Background(), "SELECT bogus FROM ovst LIMIT 10")
	require.Error(t, err)

	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindDatabase, execErr.Kind)
	assert.Equal(t, "the database rejected the query", execErr.Redacted())
}

func TestRunTimeout(t *testing.T) {
	exec, mock, _ := newMockExecutor(t, Budget{Timeout: 20 * time.Millisecond, RowCap: 10})

	mock.ExpectQuery("SELECT pg_sleep_like").
		WillDelayFor(500 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"x"}))

	_, err := exec.Run(context.Background(), "SELECT pg_sleep_like FROM slow LIMIT 1")
	require.Error(t, err)

	var execErr *Error
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindTimeout, execErr.Kind)
	assert.Equal(t, "the query exceeded its time budget and was cancelled", execErr.Redacted())
}

func TestRunTimeoutDiscardsConnection(t *testing.T) {
	exec, mock, session := newMockExecutor(t, Budget{Timeout: 20 * time.Millisecond, RowCap: 10})

	mock.ExpectQuery("SELECT pg_sleep_like").
		WillDelayFor(500 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"x"}))
	mock.ExpectQuery("SELECT dept_code").
		WillReturnRows(sqlmock.NewRows([]string{"dept_code"}).AddRow([]byte("OPD")))

	_, err := exec.Run(context.Background(), "SELECT pg_sleep_like FROM slow LIMIT 1")
	require.Error(t, err)

	// The timed-out connection must not go back to the idle pool.
	require.Eventually(t, func() bool {
		return session.db.Stats().OpenConnections == 0
	}, 2*time.Second, 10*time.Millisecond)

	res, err := exec.Run(context.Background(), "SELECT dept_code FROM ovst LIMIT 1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.RowCount)
	assert.Equal(t, 2, session.prepared)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunConnectionError(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	require.NoError(t, db.Close())

	exec := New(&fakeSession{db: db}, DefaultBudget(), nil)
	_, runErr := exec.Run(context.Background(), "SELECT 1")
	require.Error(t, runErr)

	var execErr *Error
	require.ErrorAs(t, runErr, &execErr)
	assert.Equal(t, KindConnection, execErr.Kind)
}

func TestRunPrepareSessionError(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	session := &fakeSession{db: db, prepErr: assert.AnError}
	exec := New(session, DefaultBudget(), nil)

	_, runErr := exec.Run(context.Background(), "SELECT 1")
	var execErr *Error
	require.ErrorAs(t, runErr, &execErr)
	assert.Equal(t, KindConnection, execErr.Kind)
}

func TestBudgetDefaultsAndAux(t *testing.T) {
	b := DefaultBudget()
	assert.Equal(t, 15*time.Second, b.Timeout)
	assert.Equal(t, 2000, b.RowCap)

	aux := b.Aux()
	assert.Equal(t, 7500*time.Millisecond, aux.Timeout)
	assert.Equal(t, 1000, aux.RowCap)

	e := New(&fakeSession{}, Budget{}, nil)
	assert.Equal(t, DefaultBudget(), e.Budget())
}
