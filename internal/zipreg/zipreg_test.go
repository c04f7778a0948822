package zipreg

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andrewpyen/arcpy-automated-map-creation/log"
)

func TestMain(m *testing.M) {
	log.Logger = zap.NewNop()
	os.Exit(m.Run())
}

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("zip"), 0o644))
	return path
}

func TestRefreshPicksNewestByEmbeddedDate(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "SWN_BRN_20250810.gdb.zip")
	newest := touch(t, dir, "SWN_KCH_20250812.gdb.zip")
	touch(t, dir, "SWN_MYY_20250801.gdb.zip")
	touch(t, dir, "random.zip")
	touch(t, dir, "notes.txt")

	r := New(dir)
	require.NoError(t, r.Refresh())

	cur, err := r.Current()
	require.NoError(t, err)
	assert.Equal(t, newest, cur.Path)
	assert.Equal(t, "SWN_KCH_20250812.gdb.zip", cur.Name)
	assert.Equal(t, time.Date(2025, 8, 12, 0, 0, 0, 0, time.UTC), cur.Date)

	assert.Len(t, r.List(), 3)
}

func TestRefreshBreaksDateTieByModTime(t *testing.T) {
	dir := t.TempDir()
	older := touch(t, dir, "SWN_BRN_20250812.gdb.zip")
	newer := touch(t, dir, "SWN_KCH_20250812.gdb.zip")
	base := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, base, base))
	require.NoError(t, os.Chtimes(newer, base.Add(time.Minute), base.Add(time.Minute)))

	r := New(dir)
	require.NoError(t, r.Refresh())

	cur, err := r.Current()
	require.NoError(t, err)
	assert.Equal(t, newer, cur.Path)
}

func TestRefreshSkipsImpossibleDates(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "SWN_BRN_20251399.gdb.zip")

	r := New(dir)
	require.NoError(t, r.Refresh())

	_, err := r.Current()
	assert.ErrorIs(t, err, ErrNoArchives)
}

func TestCurrentEmptyDirectory(t *testing.T) {
	r := New(t.TempDir())
	require.NoError(t, r.Refresh())

	_, err := r.Current()
	assert.ErrorIs(t, err, ErrNoArchives)
}

func TestRefreshMissingDirectoryErrors(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "not-mounted"))
	assert.Error(t, r.Refresh())
}

func TestLookupByNameIsCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	want := touch(t, dir, "SWN_BRN_20250812.gdb.zip")

	r := New(dir)
	require.NoError(t, r.Refresh())

	e, ok := r.Lookup("swn_brn_20250812.GDB.ZIP")
	require.True(t, ok)
	assert.Equal(t, want, e.Path)

	_, ok = r.Lookup("SWN_SBU_20250812.gdb.zip")
	assert.False(t, ok)
}

func TestWatcherPicksUpDroppedArchive(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	r.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx, 0))
	defer r.Stop()

	_, err := r.Current()
	require.ErrorIs(t, err, ErrNoArchives)

	touch(t, dir, "SWN_BRN_20250812.gdb.zip")

	assert.Eventually(t, func() bool {
		cur, err := r.Current()
		return err == nil && cur.Name == "SWN_BRN_20250812.gdb.zip"
	}, 3*time.Second, 25*time.Millisecond)
}

func TestScheduledRescanCoversMissedEvents(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx, time.Second))
	defer r.Stop()

	// Arrive via rename, as copies onto a share do. Whether the watcher or
	// the scheduled rescan notices first does not matter.
	outside := filepath.Join(t.TempDir(), "SWN_KCH_20250815.gdb.zip")
	require.NoError(t, os.WriteFile(outside, []byte("zip"), 0o644))
	require.NoError(t, os.Rename(outside, filepath.Join(dir, "SWN_KCH_20250815.gdb.zip")))

	assert.Eventually(t, func() bool {
		cur, err := r.Current()
		return err == nil && cur.Name == "SWN_KCH_20250815.gdb.zip"
	}, 5*time.Second, 100*time.Millisecond)
}
