package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masterplan/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8, cfg.Calendar.StartHour)
	assert.Equal(t, 18, cfg.Calendar.EndHour)
	assert.Equal(t, 5*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 2*time.Second, cfg.Sync.Cooldown)
	assert.Equal(t, "merge", cfg.Sync.Mode)
	assert.Equal(t, []string{"MOEX", "YOBEL", "MELISSA", "CAJA 1", "CAJA 2", "CAJA 3"}, cfg.Resources.Lines)
	assert.Equal(t, "IMPRESION_01", cfg.Resources.Machines[domain.ProcessPrint][0])
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("sync:\n  mode: replace\n  interval: 1s\nresources:\n  lines: [A, B]\n"))
	require.NoError(t, err)
	assert.Equal(t, "replace", cfg.Sync.Mode)
	assert.Equal(t, time.Second, cfg.Sync.Interval)
	assert.Equal(t, 2*time.Second, cfg.Sync.Cooldown)
	assert.Equal(t, []string{"A", "B"}, cfg.Resources.Lines)
	assert.NotEmpty(t, cfg.Resources.Machines[domain.ProcessDieCut])
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad mode":     "sync:\n  mode: wholesale\n",
		"bad hours":    "calendar:\n  start_hour: 18\n  end_hour: 8\n",
		"bad kind":     "resources:\n  machines:\n    glue: [G1]\n",
		"empty lines":  "resources:\n  lines: []\n",
		"bad timezone": "calendar:\n  timezone: Mars/Olympus\n",
		"bad base":     "server:\n  base_path: api\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, "merge", cfg.Sync.Mode)

	_, err = Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "masterplan.yml"), []byte("calendar:\n  timezone: UTC\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}
