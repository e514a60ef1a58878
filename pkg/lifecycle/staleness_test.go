package lifecycle_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mentat25/Metrix/pkg/lifecycle"
	"github.com/mentat25/Metrix/pkg/run"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDetector(now time.Time) *lifecycle.StalenessDetector {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return lifecycle.NewStalenessDetector(log, func() time.Time { return now })
}

func writeAged(t *testing.T, dir, name string, mtime time.Time) {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestStalenessDetector_IsStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		ages  []time.Duration
		state run.State
		want  bool
	}{
		{
			name:  "silent running run",
			ages:  []time.Duration{25 * time.Hour, 30 * time.Hour},
			state: run.StateRunning,
			want:  true,
		},
		{
			name:  "one recent file",
			ages:  []time.Duration{25 * time.Hour, time.Hour},
			state: run.StateRunning,
			want:  false,
		},
		{
			name:  "exactly at timeout",
			ages:  []time.Duration{24 * time.Hour},
			state: run.StateRunning,
			want:  false,
		},
		{
			name:  "turn is exempt",
			ages:  []time.Duration{48 * time.Hour},
			state: run.StateTurn,
			want:  false,
		},
		{
			name:  "finished short-circuits",
			ages:  []time.Duration{48 * time.Hour},
			state: run.StateFinished,
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for i, age := range tt.ages {
				writeAged(t, dir, filepath.Base(t.Name())+string(rune('a'+i)), now.Add(-age))
			}

			assert.Equal(t, tt.want, newDetector(now).IsStale(dir, tt.state))
		})
	}
}

func TestStalenessDetector_MissingOrEmpty(t *testing.T) {
	d := newDetector(time.Now().Add(72 * time.Hour))

	assert.False(t, d.IsStale(filepath.Join(t.TempDir(), "nope"), run.StateRunning))
	assert.False(t, d.IsStale(t.TempDir(), run.StateRunning))
}
