package user_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkrupp/userstore/internal/repo/user"
)

// backend opens a fresh, empty Database for one test.
type backend struct {
	name string
	open func(t *testing.T) user.Database
}

func backends() []backend {
	return []backend{
		{
			name: "memory",
			open: func(t *testing.T) user.Database {
				t.Helper()

				return user.NewMemoryDatabase()
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) user.Database {
				t.Helper()

				db, err := user.NewSQLiteDatabase(user.SQLiteDatabaseConfig{
					DatabasePath: filepath.Join(t.TempDir(), "users.db"),
					BusyTimeout:  10 * time.Second,
				})
				require.NoError(t, err)
				t.Cleanup(func() { _ = db.Close() })

				return db
			},
		},
	}
}

// forEachBackend runs fn as a subtest per backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, db user.Database)) {
	t.Helper()

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.open(t))
		})
	}
}

// countingNotifier records reload notifications.
type countingNotifier struct {
	calls int
	err   error
	m     sync.Mutex
}

func (n *countingNotifier) Reload(context.Context) error {
	n.m.Lock()
	defer n.m.Unlock()

	n.calls++

	return n.err
}

func (n *countingNotifier) Calls() int {
	n.m.Lock()
	defer n.m.Unlock()

	return n.calls
}

func newSystemStore(t *testing.T, db user.Database, notifier user.ReloadNotifier) *user.Store {
	t.Helper()

	store, err := user.NewStore(context.Background(), db, user.SystemScope(), notifier)
	require.NoError(t, err)

	return store
}

func newTenantStore(t *testing.T, db user.Database, app string) *user.Store {
	t.Helper()

	store, err := user.NewStore(context.Background(), db, user.TenantScope(app), nil)
	require.NoError(t, err)

	return store
}
