package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/docmem/pkg/types"
	"github.com/scrypster/docmem/web/handlers"
)

func upgradeRequest(origin, tenant string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/stream", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if tenant != "" {
		req.Header.Set(handlers.HeaderTenantID, tenant)
	}
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	return req
}

func TestWebSocketHub_ValidatesOrigin(t *testing.T) {
	hub := handlers.NewWebSocketHub(nil, "localhost:6464")
	defer hub.Stop()

	w := httptest.NewRecorder()
	hub.ServeHTTP(w, upgradeRequest("http://evil.com", "acme"))

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebSocketHub_RequiresTenant(t *testing.T) {
	hub := handlers.NewWebSocketHub(nil)
	defer hub.Stop()

	w := httptest.NewRecorder()
	hub.ServeHTTP(w, upgradeRequest("", ""))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), types.CodeInvalidKey)
}

func TestWebSocketHub_BroadcastIsScoped(t *testing.T) {
	hub := handlers.NewWebSocketHub(nil)
	go hub.Run()
	defer hub.Stop()

	mine := &handlers.MockClient{SendChan: make(chan []byte, 4), TenantID: "acme", UserID: "ada"}
	tenantWide := &handlers.MockClient{SendChan: make(chan []byte, 4), TenantID: "acme"}
	other := &handlers.MockClient{SendChan: make(chan []byte, 4), TenantID: "globex"}
	hub.Register(mine)
	hub.Register(tenantWide)
	hub.Register(other)

	hub.Broadcast(types.MutationEvent{
		Type: types.EventDocumentPatched, TenantID: "acme", UserID: "ada",
		Namespace: "user", Path: "profile", ETag: "e1", Time: time.Now(),
	})

	for _, c := range []*handlers.MockClient{mine, tenantWide} {
		select {
		case msg := <-c.SendChan:
			assert.Contains(t, string(msg), types.EventDocumentPatched)
			assert.Contains(t, string(msg), `"path":"profile"`)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for broadcast message")
		}
	}

	// A second event proves the hub already passed over the other tenant.
	hub.Broadcast(types.MutationEvent{Type: types.EventDocumentPatched, TenantID: "acme", UserID: "bob"})
	select {
	case msg := <-tenantWide.SendChan:
		assert.Contains(t, string(msg), `"user_id":"bob"`)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for second message")
	}
	require.Empty(t, other.SendChan)
	assert.Empty(t, mine.SendChan)
}
