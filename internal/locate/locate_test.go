package locate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func mkLogs(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
}

func TestResolve_Override(t *testing.T) {
	home := t.TempDir()
	custom := filepath.Join(home, "custom")
	mkLogs(t, custom)

	r := NewResolverFor(home, "pilot", zaptest.NewLogger(t))
	dir, err := r.Resolve(custom)
	require.NoError(t, err)
	assert.Equal(t, custom, dir)
}

func TestResolve_MissingOverrideFallsBack(t *testing.T) {
	home := t.TempDir()
	native := filepath.Join(home, ".local", "share", "CCP", "EVE", "logs", "Chatlogs")
	mkLogs(t, native, "Local_20250907_160000_1.txt")

	r := NewResolverFor(home, "pilot", zaptest.NewLogger(t))
	dir, err := r.Resolve(filepath.Join(home, "nope"))
	require.NoError(t, err)
	assert.Equal(t, native, dir)
}

func TestResolve_ProbeOrder(t *testing.T) {
	home := t.TempDir()
	r := NewResolverFor(home, "pilot", zaptest.NewLogger(t))
	candidates := r.Candidates()

	// An empty earlier candidate is skipped in favour of one with logs.
	mkLogs(t, candidates[1], "notes.txt", "readme")
	wine := filepath.Join(home, ".wine", "drive_c", "users", "pilot", "Documents", "EVE", "logs", "Chatlogs")
	mkLogs(t, wine, "Phoenix_Intel_20250907_160000_1.txt")
	mkLogs(t, filepath.Join(home, "EVE", "logs", "Chatlogs"), "Local_20250907_160000_1.txt")

	dir, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, wine, dir)
}

func TestResolve_NotFound(t *testing.T) {
	r := NewResolverFor(t.TempDir(), "pilot", zaptest.NewLogger(t))
	_, err := r.Resolve("")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCandidates(t *testing.T) {
	r := NewResolverFor("/home/pilot", "pilot", zaptest.NewLogger(t))
	candidates := r.Candidates()

	assert.Len(t, candidates, 13)
	assert.Equal(t, "/home/pilot/.local/share/CCP/EVE/logs/Chatlogs", candidates[0])
	assert.Contains(t, candidates,
		"/home/pilot/.steam/steam/steamapps/compatdata/8500/pfx/drive_c/users/steamuser/Documents/EVE/logs/Chatlogs")
	assert.Contains(t, candidates,
		"/home/pilot/.var/app/com.valvesoftware.Steam/home/.steam/steam/steamapps/compatdata/8500/pfx/drive_c/users/steamuser/Documents/EVE/logs/Chatlogs")
	assert.Contains(t, candidates,
		"/home/pilot/.local/share/bottles/bottles/EVE/drive_c/users/pilot/Documents/EVE/logs/Chatlogs")
}
