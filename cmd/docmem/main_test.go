package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/docmem/internal/config"
	"github.com/scrypster/docmem/internal/engine"
	"github.com/scrypster/docmem/internal/patch"
	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/pkg/types"
)

const testPolicies = `
policies:
  - policy_id: default
    retention:
      events_days: 30
    bindings:
      - binding_id: profile
        namespace: user
        path: profile
        schema_id: user.profile
        schema_version: "1"
        max_chars: 4000
        allowed_paths: [/]
`

func testConfig(t *testing.T, engineName string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	policyFile := filepath.Join(dir, "policies.yaml")
	require.NoError(t, os.WriteFile(policyFile, []byte(testPolicies), 0o600))
	return &config.Config{
		Storage: config.StorageConfig{
			StorageEngine: engineName,
			DataPath:      filepath.Join(dir, "data"),
			PolicyPath:    policyFile,
		},
		Engine: config.EngineConfig{IdempotencyCacheSize: 10},
	}
}

func TestOpenAppEngines(t *testing.T) {
	for _, name := range []string{config.EngineFilesystem, config.EngineSQLite} {
		t.Run(name, func(t *testing.T) {
			c := testConfig(t, name)
			c.Storage.BreakerEnabled = name == config.EngineSQLite
			a, err := openApp(context.Background(), c, slog.New(slog.DiscardHandler))
			require.NoError(t, err)
			defer a.Close()
			require.Len(t, a.scopes, 4, "documents, events, audit and snapshots all report scopes")

			ctx := context.Background()
			key := types.DocumentKey{TenantID: "acme", UserID: "ada", Namespace: "user", Path: "profile"}
			_, err = a.coord.PatchDocument(ctx, key, engine.PatchRequest{
				PolicyID: "default", BindingID: "profile", Actor: "cli-test", ExpectedETag: types.AnyETag,
				Ops: []patch.Op{{Op: patch.OpAdd, Path: "/theme", Value: "dark"}},
			})
			require.NoError(t, err)

			scopes, err := a.scopes[0].Scopes(ctx)
			require.NoError(t, err)
			assert.Equal(t, []storage.Scope{{TenantID: "acme", UserID: "ada"}}, scopes)

			_, err = a.coord.WriteEvent(ctx, "acme", "bob", types.EventDigest{
				ServiceID: "chat", SourceType: "conversation", Digest: "hello", Timestamp: time.Now(),
			})
			require.NoError(t, err)
			scopes, err = a.scopes[1].Scopes(ctx)
			require.NoError(t, err)
			assert.Equal(t, []storage.Scope{{TenantID: "acme", UserID: "bob"}}, scopes)

			// Writes also publish a notification file.
			entries, err := os.ReadDir(filepath.Join(c.Storage.DataPath, "notifications"))
			require.NoError(t, err)
			assert.NotEmpty(t, entries)
		})
	}
}

func TestOpenAppBadPolicyFile(t *testing.T) {
	c := testConfig(t, config.EngineFilesystem)
	c.Storage.PolicyPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := openApp(context.Background(), c, slog.New(slog.DiscardHandler))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	l := newLogger(config.LogConfig{Level: "debug", Format: "json"})
	assert.True(t, l.Enabled(context.Background(), slog.LevelDebug))
	_, isJSON := l.Handler().(*slog.JSONHandler)
	assert.True(t, isJSON)

	l = newLogger(config.LogConfig{Level: "bogus", Format: "text"})
	assert.False(t, l.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, l.Enabled(context.Background(), slog.LevelInfo))
}

func TestRetentionCommand(t *testing.T) {
	c := testConfig(t, config.EngineFilesystem)
	t.Setenv("DOCMEM_DATA_PATH", c.Storage.DataPath)
	t.Setenv("DOCMEM_LOG_LEVEL", "error")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"retention", "--policies", c.Storage.PolicyPath,
		"--tenant", "acme", "--user", "ada", "--as-of", "2026-01-01T00:00:00Z"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())

	var res engine.RetentionResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Zero(t, res.EventsDeleted)
	assert.Equal(t, "2025-12-02T00:00:00Z", res.EventsCutoff.Format("2006-01-02T15:04:05Z07:00"))
}
