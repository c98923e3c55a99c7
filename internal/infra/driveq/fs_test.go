package driveq

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"driveq/internal/config"
	"driveq/internal/domain"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	cfg := config.Drive{Root: t.TempDir(), TempMaxAge: time.Hour}
	c := New(cfg)
	require.NoError(t, c.Init(context.Background()))
	return c
}

func TestFS_WriteAtomic(t *testing.T) {
	c := newTestClient(t)
	path := filepath.Join(c.Paths.Tasks, "a.todo")

	require.NoError(t, c.FS.WriteAtomic(path, []byte("payload: {}\n")))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "payload: {}\n", string(b))

	// Overwrite is also atomic.
	require.NoError(t, c.FS.WriteAtomic(path, []byte("priority: 1\n")))
	b, _ = os.ReadFile(path)
	require.Equal(t, "priority: 1\n", string(b))

	// No temp leftovers after a clean write.
	ents, err := os.ReadDir(c.Paths.Tasks)
	require.NoError(t, err)
	require.Len(t, ents, 1)
}

func TestFS_WriteExclusive(t *testing.T) {
	c := newTestClient(t)
	path := filepath.Join(c.Paths.Tasks, "a.lock")

	require.NoError(t, c.FS.WriteExclusive(path, []byte("owner: w1\n")))
	err := c.FS.WriteExclusive(path, []byte("owner: w2\n"))
	require.ErrorIs(t, err, domain.ErrConflict)

	b, _ := os.ReadFile(path)
	require.Equal(t, "owner: w1\n", string(b))
}

func TestFS_RenameAtomic(t *testing.T) {
	c := newTestClient(t)
	src := filepath.Join(c.Paths.Tasks, "a.todo")
	dst := filepath.Join(c.Paths.Tasks, "a.running")
	require.NoError(t, c.FS.WriteAtomic(src, []byte("x: 1\n")))

	require.NoError(t, c.FS.RenameAtomic(src, dst))
	require.False(t, c.FS.Exists(src))
	require.True(t, c.FS.Exists(dst))

	// Source gone: caller lost the race.
	err := c.FS.RenameAtomic(src, filepath.Join(c.Paths.Tasks, "a.done"))
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Destination occupied.
	require.NoError(t, c.FS.WriteAtomic(src, []byte("x: 2\n")))
	err = c.FS.RenameAtomic(src, dst)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestFS_ListEntries(t *testing.T) {
	c := newTestClient(t)
	require.NoError(t, c.FS.WriteAtomic(filepath.Join(c.Paths.Tasks, "a.todo"), []byte("x: 1\n")))
	require.NoError(t, c.FS.WriteAtomic(filepath.Join(c.Paths.Tasks, "b.todo"), []byte("x: 2\n")))
	require.NoError(t, c.FS.WriteAtomic(filepath.Join(c.Paths.Tasks, "c.running"), []byte("x: 3\n")))
	require.NoError(t, os.WriteFile(filepath.Join(c.Paths.Tasks, ".hidden.todo"), []byte("x"), 0o644))

	names, err := c.FS.ListEntries(c.Paths.Tasks, ".todo")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a.todo", "b.todo"}, names)

	// A missing directory lists as empty, not as an error.
	names, err = c.FS.ListEntries(filepath.Join(c.Cfg.Root, "nope"), ".todo")
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestFS_RemoveIdempotent(t *testing.T) {
	c := newTestClient(t)
	path := filepath.Join(c.Paths.Tasks, "a.lock")
	require.NoError(t, c.FS.WriteAtomic(path, []byte("x: 1\n")))

	require.NoError(t, c.FS.Remove(path))
	require.NoError(t, c.FS.Remove(path))
}

func TestFS_CleanupTemp(t *testing.T) {
	c := newTestClient(t)
	old := filepath.Join(c.Paths.Tasks, ".a.todo.dead0000.tmp")
	fresh := filepath.Join(c.Paths.Tasks, ".b.todo.live0000.tmp")
	task := filepath.Join(c.Paths.Tasks, "c.todo")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(task, []byte("x: 1\n"), 0o644))

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	c.FS.CleanupTemp(c.Paths.Tasks, time.Hour, time.Now())

	require.False(t, c.FS.Exists(old))
	require.True(t, c.FS.Exists(fresh))
	require.True(t, c.FS.Exists(task))
}

func TestSplitDescriptor(t *testing.T) {
	id, s, ok := SplitDescriptor("task_1700000000_ab12cd34.todo")
	require.True(t, ok)
	require.Equal(t, "task_1700000000_ab12cd34", id)
	require.Equal(t, domain.StateTodo, s)

	_, _, ok = SplitDescriptor("task_1.lock")
	require.False(t, ok)
	_, _, ok = SplitDescriptor("noext")
	require.False(t, ok)
	_, _, ok = SplitDescriptor(".todo")
	require.False(t, ok)
}
