package server_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/docmem/internal/config"
	"github.com/scrypster/docmem/internal/engine"
	"github.com/scrypster/docmem/internal/policy"
	"github.com/scrypster/docmem/internal/server"
	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/internal/storage/filestore"
	"github.com/scrypster/docmem/pkg/types"
	"github.com/scrypster/docmem/web/handlers"
)

func testConfig(t *testing.T, mode, token string) *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Storage:  config.StorageConfig{StorageEngine: config.EngineFilesystem, DataPath: t.TempDir()},
		Security: config.SecurityConfig{SecurityMode: mode, APIToken: token},
	}
}

func newCoordinator(t *testing.T, root string) *engine.Coordinator {
	t.Helper()
	reg, err := policy.New([]types.Policy{{
		PolicyID: "assistant",
		Bindings: []types.DocumentBinding{{
			BindingID: "profile", Namespace: "user", Path: "profile",
			SchemaID: "user.profile", SchemaVersion: "1", MaxChars: 4000, AllowedPaths: []string{"/"},
		}},
	}})
	require.NoError(t, err)

	docs, err := filestore.NewDocumentStore(root, storage.NewKeyLocks(), nil)
	require.NoError(t, err)
	events, err := filestore.NewEventStore(root, nil)
	require.NoError(t, err)
	audit, err := filestore.NewAuditStore(root, nil)
	require.NoError(t, err)
	snaps, err := filestore.NewSnapshotStore(root, nil)
	require.NoError(t, err)

	coord, err := engine.NewCoordinator(engine.Stores{Documents: docs, Events: events, Audit: audit, Snapshots: snaps}, reg, engine.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(coord.Close)
	return coord
}

// startTestServer starts a server on a random port and returns its base URL.
func startTestServer(t *testing.T, cfg *config.Config) (string, context.CancelFunc) {
	t.Helper()
	running, cancel := startRunning(t, cfg)
	return "http://" + running.Addr, cancel
}

func startRunning(t *testing.T, cfg *config.Config) (*server.Running, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	running, err := server.Start(ctx, cfg, server.Options{
		Coordinator: newCoordinator(t, cfg.Storage.DataPath),
		Version:     "test",
	})
	require.NoError(t, err)
	require.NotNil(t, running.Hub)
	return running, cancel
}

func get(t *testing.T, url string, headers ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_StartsOnRandomPort(t *testing.T) {
	baseURL, _ := startTestServer(t, testConfig(t, config.ModeDevelopment, ""))

	host, port, err := net.SplitHostPort(strings.TrimPrefix(baseURL, "http://"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.NotEqual(t, "0", port)
}

func TestServer_RequiresCoordinator(t *testing.T) {
	_, err := server.Start(context.Background(), testConfig(t, config.ModeDevelopment, ""), server.Options{})
	assert.Error(t, err)
}

func TestServer_HealthEndpoint(t *testing.T) {
	baseURL, _ := startTestServer(t, testConfig(t, config.ModeProduction, "secret"))

	resp := get(t, baseURL+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode, "health needs no token")
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body handlers.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "test", body.Version)
	assert.Equal(t, config.EngineFilesystem, body.Storage)
}

func TestServer_SecurityHeaders(t *testing.T) {
	baseURL, _ := startTestServer(t, testConfig(t, config.ModeDevelopment, ""))

	resp := get(t, baseURL+"/healthz")
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestServer_ProductionModeRequiresAuth(t *testing.T) {
	baseURL, _ := startTestServer(t, testConfig(t, config.ModeProduction, "secret"))
	identity := []string{handlers.HeaderTenantID, "acme", handlers.HeaderUserID, "ada"}

	resp := get(t, baseURL+"/v1/audit", identity...)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = get(t, baseURL+"/v1/audit", append(identity, "Authorization", "Bearer secret")...)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_DevelopmentModeNoAuth(t *testing.T) {
	baseURL, _ := startTestServer(t, testConfig(t, config.ModeDevelopment, ""))

	resp := get(t, baseURL+"/v1/documents/user/profile", handlers.HeaderTenantID, "acme", handlers.HeaderUserID, "ada")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig(t, config.ModeDevelopment, "")
	cfg.Security.RateLimit = 0.001
	cfg.Security.RateBurst = 1
	baseURL, _ := startTestServer(t, cfg)
	identity := []string{handlers.HeaderTenantID, "acme", handlers.HeaderUserID, "ada"}

	assert.Equal(t, http.StatusOK, get(t, baseURL+"/v1/audit", identity...).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, get(t, baseURL+"/v1/audit", identity...).StatusCode)
	assert.Equal(t, http.StatusOK, get(t, baseURL+"/healthz").StatusCode, "health is not rate limited")
}

func TestServer_UnknownRoutesAndMethods(t *testing.T) {
	baseURL, _ := startTestServer(t, testConfig(t, config.ModeDevelopment, ""))

	assert.Equal(t, http.StatusNotFound, get(t, baseURL+"/v1/nothing").StatusCode)

	req, err := http.NewRequest(http.MethodDelete, baseURL+"/v1/documents/user/profile", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_GracefulShutdown(t *testing.T) {
	running, cancel := startRunning(t, testConfig(t, config.ModeDevelopment, ""))
	baseURL := "http://" + running.Addr
	require.Equal(t, http.StatusOK, get(t, baseURL+"/healthz").StatusCode)

	cancel()
	select {
	case <-running.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not finish")
	}

	assert.Eventually(t, func() bool {
		client := &http.Client{Timeout: 200 * time.Millisecond}
		resp, err := client.Get(baseURL + "/healthz")
		if err != nil {
			return true
		}
		_ = resp.Body.Close()
		return false
	}, 3*time.Second, 50*time.Millisecond, "server should stop responding after shutdown")
}
