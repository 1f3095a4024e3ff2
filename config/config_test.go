package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/dialogmesh/template"
)

const sampleYAML = `
confidence_threshold: 0.6
interrupt_confidence: 0.8
session:
  ttl: 15m
  store: sqlite
  sqlite_path: data/sessions.db
dispatch:
  max_retries: 1
  base_backoff: 100ms
  timeout: 2s
fallback:
  budget: 3
escalation:
  fallback_threshold: 3
  negative_keywords: [furious]
server:
  addr: ":9090"
actions:
  - name: track_parcel
    params:
      - name: parcel_id
        kind: string
        required: true
        prompt: Which parcel?
      - name: carrier
        kind: enum
        enum: [dhl, ups]
responses:
  track_parcel:
    success: "Parcel {{.params.parcel_id}} is on its way."
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 0.6, cfg.ConfidenceThreshold)
	assert.Equal(t, 0.8, cfg.InterruptConfidence)
	assert.Equal(t, "inform", cfg.InformIntent, "unset fields keep defaults")
	assert.Equal(t, 15*time.Minute, cfg.Session.TTL.Std())
	assert.Equal(t, "sqlite", cfg.Session.Store)
	assert.Equal(t, 1, cfg.Dispatch.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Dispatch.BaseBackoff.Std())
	assert.Equal(t, 3, cfg.Fallback.Budget)
	assert.Equal(t, []string{"furious"}, cfg.Escalation.NegativeKeywords)
	assert.Equal(t, ":9090", cfg.Server.Addr)

	require.Len(t, cfg.Actions, 1)
	assert.Equal(t, "track_parcel", cfg.Actions[0].Name)
	assert.Equal(t, "Parcel {{.params.parcel_id}} is on its way.", cfg.Responses["track_parcel"]["success"])
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.6, cfg.ConfidenceThreshold)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad threshold", "confidence_threshold: 1.5"},
		{"unknown store", "session:\n  store: redis"},
		{"sqlite without path", "session:\n  store: sqlite"},
		{"unknown param kind", "actions:\n  - name: a\n    params:\n      - name: p\n        kind: boolean"},
		{"bad duration", "dispatch:\n  timeout: fast"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestBuildRegistry(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	reg, err := cfg.BuildRegistry()
	require.NoError(t, err)

	tmpl, ok := reg.Get("track_parcel")
	require.True(t, ok)
	assert.Equal(t, []string{"parcel_id"}, tmpl.RequiredNames())

	spec, ok := tmpl.Spec("carrier")
	require.True(t, ok)
	assert.Equal(t, template.ParamEnum, spec.Kind)
}

func TestBuildRegistryRejectsDuplicates(t *testing.T) {
	cfg := Default()
	cfg.Actions = append(cfg.Actions, cfg.Actions[0])
	_, err := cfg.BuildRegistry()
	assert.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	reg, err := cfg.BuildRegistry()
	require.NoError(t, err)
	assert.Contains(t, reg.Names(), "add_to_cart")
}
