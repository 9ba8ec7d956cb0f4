package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/docmem/internal/engine"
	"github.com/scrypster/docmem/internal/policy"
	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/internal/storage/filestore"
	"github.com/scrypster/docmem/pkg/types"
	"github.com/scrypster/docmem/web/handlers"
)

var now = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func newTestAPI(t *testing.T) (http.Handler, *engine.Coordinator) {
	t.Helper()
	reg, err := policy.New([]types.Policy{{
		PolicyID:  "assistant",
		Retention: types.RetentionRules{EventsDays: 30},
		Bindings: []types.DocumentBinding{
			{
				BindingID: "profile", Namespace: "user", Path: "profile",
				SchemaID: "user.profile", SchemaVersion: "1", MaxChars: 4000,
				AllowedPaths: []string{"/preferences"}, ReadPriority: 1,
			},
			{
				BindingID: "notes", Namespace: "projects", PathTemplate: "{project_id}/notes",
				SchemaID: "notes", SchemaVersion: "1", MaxChars: 8000,
				AllowedPaths: []string{"/"}, ReadPriority: 2,
				Compaction: []types.CompactionRule{{Field: "log", MaxItems: 1}},
			},
		},
	}})
	require.NoError(t, err)

	root := t.TempDir()
	docs, err := filestore.NewDocumentStore(root, storage.NewKeyLocks(), nil)
	require.NoError(t, err)
	events, err := filestore.NewEventStore(root, nil)
	require.NoError(t, err)
	audit, err := filestore.NewAuditStore(root, nil)
	require.NoError(t, err)
	snaps, err := filestore.NewSnapshotStore(root, nil)
	require.NoError(t, err)

	cfg := engine.DefaultConfig()
	cfg.Clock = func() time.Time { return now }
	coord, err := engine.NewCoordinator(engine.Stores{Documents: docs, Events: events, Audit: audit, Snapshots: snaps}, reg, cfg)
	require.NoError(t, err)
	t.Cleanup(coord.Close)

	mux := http.NewServeMux()
	handlers.NewAPIHandlers(coord, nil).Register(mux)
	return mux, coord
}

func do(t *testing.T, h http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(handlers.HeaderTenantID, "acme")
	req.Header.Set(handlers.HeaderUserID, "ada")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Error.Code
}

const createProfile = `{
	"policy_id": "assistant", "binding_id": "profile", "actor": "assistant",
	"expected_etag": "*", "reason": "user stated a preference",
	"ops": [{"op": "add", "path": "/preferences", "value": ["tea"]}]
}`

func TestPatchAndGetDocument(t *testing.T) {
	h, _ := newTestAPI(t)

	w := do(t, h, http.MethodPatch, "/v1/documents/user/profile", createProfile)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	var rec types.DocumentRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, `"`+rec.ETag+`"`, etag)
	assert.Equal(t, "user.profile", rec.Envelope.SchemaID)

	w = do(t, h, http.MethodGet, "/v1/documents/user/profile", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, etag, w.Header().Get("ETag"))
	assert.Contains(t, w.Body.String(), `"tea"`)
}

func TestIfMatchOverridesBodyToken(t *testing.T) {
	h, _ := newTestAPI(t)
	w := do(t, h, http.MethodPatch, "/v1/documents/user/profile", createProfile)
	require.Equal(t, http.StatusOK, w.Code)
	etag := w.Header().Get("ETag")

	update := `{"policy_id": "assistant", "binding_id": "profile", "actor": "assistant",
		"expected_etag": "stale", "ops": [{"op": "add", "path": "/preferences/-", "value": "jazz"}]}`

	w = do(t, h, http.MethodPatch, "/v1/documents/user/profile", update, "If-Match", etag)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The old token no longer matches.
	w = do(t, h, http.MethodPatch, "/v1/documents/user/profile", update, "If-Match", etag)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Equal(t, types.CodeETagMismatch, errorCode(t, w))
}

func TestErrorStatusMapping(t *testing.T) {
	h, _ := newTestAPI(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
		code   string
	}{
		{"missing document", http.MethodGet, "/v1/documents/user/profile", "", http.StatusNotFound, types.CodeDocumentNotFound},
		{"malformed json", http.MethodPatch, "/v1/documents/user/profile", `{"ops": [`, http.StatusBadRequest, handlers.CodeInvalidJSON},
		{"unknown policy", http.MethodPatch, "/v1/documents/user/profile",
			strings.Replace(createProfile, `"assistant", "binding_id"`, `"ghost", "binding_id"`, 1),
			http.StatusNotFound, types.CodePolicyNotFound},
		{"disallowed path", http.MethodPatch, "/v1/documents/user/profile",
			strings.Replace(createProfile, `"/preferences"`, `"/secrets"`, 1),
			http.StatusUnprocessableEntity, types.CodePathNotWritable},
		{"bad key", http.MethodGet, "/v1/documents/user/bad%20name", "", http.StatusUnprocessableEntity, types.CodeInvalidKey},
		{"bad list pattern", http.MethodGet, "/v1/documents?pattern=%5B", "", http.StatusUnprocessableEntity, types.CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}
}

func TestMissingIdentityIsRejected(t *testing.T) {
	h, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/audit", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, types.CodeInvalidKey, errorCode(t, w))
}

func TestIdempotencyKeyHeader(t *testing.T) {
	h, _ := newTestAPI(t)
	first := do(t, h, http.MethodPatch, "/v1/documents/user/profile", createProfile, "Idempotency-Key", "req-1")
	require.Equal(t, http.StatusOK, first.Code)

	again := do(t, h, http.MethodPatch, "/v1/documents/user/profile", createProfile, "Idempotency-Key", "req-1")
	require.Equal(t, http.StatusOK, again.Code, "a retry replays the first outcome")
	assert.Equal(t, first.Header().Get("ETag"), again.Header().Get("ETag"))
}

func TestListDocumentsAndAudit(t *testing.T) {
	h, _ := newTestAPI(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPatch, "/v1/documents/user/profile", createProfile).Code)

	w := do(t, h, http.MethodGet, "/v1/documents?namespace=user", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Documents []types.DocumentListItem `json:"documents"`
		Count     int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "profile", list.Documents[0].Path)

	w = do(t, h, http.MethodGet, "/v1/audit?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "user stated a preference")
}

func TestContextUsesIdentityHeaders(t *testing.T) {
	h, _ := newTestAPI(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPatch, "/v1/documents/user/profile", createProfile).Code)

	// The body cannot widen the scope.
	w := do(t, h, http.MethodPost, "/v1/context", `{"policy_id": "assistant", "tenant_id": "other", "user_id": "eve"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res engine.ContextResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "profile", res.Documents[0].BindingID)
}

func TestEventsRoundTrip(t *testing.T) {
	h, _ := newTestAPI(t)

	w := do(t, h, http.MethodPost, "/v1/events", `{"service_id": "chat", "source_type": "conversation",
		"timestamp": "2026-04-01T09:00:00Z", "digest": "discussed the lighthouse restoration"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, h, http.MethodPost, "/v1/events/search", `{"text": "lighthouse"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)

	w = do(t, h, http.MethodPost, "/v1/admin/retention", `{"policy_id": "assistant", "as_of": "2026-06-01T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ret engine.RetentionResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ret))
	assert.Equal(t, 1, ret.EventsDeleted)
}

func TestSnapshotRoutes(t *testing.T) {
	h, _ := newTestAPI(t)

	w := do(t, h, http.MethodPost, "/v1/snapshots", `{"conversation_id": "c1",
		"messages": [{"message_id": "m1", "role": "user", "text": "hello", "timestamp": "2026-04-01T09:00:00Z"}]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var info types.SnapshotInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))

	w = do(t, h, http.MethodGet, "/v1/snapshots/c1/"+info.SnapshotID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hello")

	w = do(t, h, http.MethodGet, "/v1/snapshots?conversation_id=c1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), info.SnapshotID)
}

func TestCompactAndForget(t *testing.T) {
	h, coord := newTestAPI(t)
	create := `{"policy_id": "assistant", "binding_id": "notes", "project_id": "apollo", "actor": "assistant",
		"expected_etag": "*", "ops": [{"op": "add", "path": "/log", "value": ["a", "b", "c"]}]}`
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPatch, "/v1/documents/projects/apollo/notes", create).Code)

	w := do(t, h, http.MethodPost, "/v1/admin/compact",
		`{"namespace": "projects", "path": "apollo/notes", "policy_id": "assistant", "binding_id": "notes"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"changed":true`)

	w = do(t, h, http.MethodDelete, "/v1/admin/users", "")
	require.Equal(t, http.StatusOK, w.Code)
	var res engine.ForgetResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Documents)

	_, err := coord.GetDocument(context.Background(), types.DocumentKey{TenantID: "acme", UserID: "ada", Namespace: "projects", Path: "apollo/notes"})
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestInternalErrorsHideMessage(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/documents/user/profile", nil)
	req.Header.Set(handlers.HeaderTenantID, "acme")
	req.Header.Set(handlers.HeaderUserID, "ada")

	api := handlers.NewAPIHandlers(brokenCoordinator{}, nil)
	api.GetDocument(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, types.CodeStorage, resp.Error.Code)
	assert.Equal(t, "internal error", resp.Error.Message)
	assert.NotContains(t, w.Body.String(), "/var/lib")
}

// brokenCoordinator fails every read with a storage error.
type brokenCoordinator struct {
	handlers.Coordinator
}

func (brokenCoordinator) GetDocument(context.Context, types.DocumentKey) (*types.DocumentRecord, error) {
	return nil, types.Internal(types.CodeStorage, "read /var/lib/docmem/doc.json", errors.New("EIO"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, handlers.StatusFor(types.Conflict(types.CodeIdempotencyKeyReused, "reused")))
	assert.Equal(t, http.StatusInternalServerError, handlers.StatusFor(errors.New("plain")))
}
