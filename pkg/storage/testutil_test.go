package storage

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testStart = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

// openTestLedger opens a ledger for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh in-memory SQLite instance.
func openTestLedger(t *testing.T) (*Ledger, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testStart)
	opts := []LedgerOption{
		WithClock(clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = ":memory:"
	} else {
		opts = append(opts, WithPool(Conns(2), IdleConns(1)))
	}

	l, err := Open(dsn, opts...)
	require.NoError(t, err, "open test ledger")
	if dsn != ":memory:" {
		// Clean before AND after to ensure test isolation.
		cleanupTables(t, l.DB())
		t.Cleanup(func() { cleanupTables(t, l.DB()) })
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, clock
}

// cleanupTables deletes all rows so tests can share a server database.
func cleanupTables(t *testing.T, db *gorm.DB) {
	t.Helper()
	for _, tbl := range []string{"chunk_outcomes", "runs"} {
		db.Exec("DELETE FROM " + tbl)
	}
}
