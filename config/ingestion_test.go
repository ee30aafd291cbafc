package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadIngestionSettingsSweep(t *testing.T) {
	s := LoadIngestionSettings()
	assert.Equal(t, 10*time.Minute, s.StaleAfter)
	assert.Equal(t, time.Minute, s.SweepInterval)

	t.Setenv("INGEST_STALE_AFTER", "30m")
	t.Setenv("INGEST_SWEEP_INTERVAL", "-5s")
	s = LoadIngestionSettings()
	assert.Equal(t, 30*time.Minute, s.StaleAfter)
	assert.Equal(t, time.Minute, s.SweepInterval)
}
