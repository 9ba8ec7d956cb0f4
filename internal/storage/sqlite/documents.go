package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/docmem/internal/storage"
	"github.com/scrypster/docmem/pkg/types"
)

// Compile-time interface checks
var (
	_ storage.DocumentStore = (*DocumentStore)(nil)
	_ storage.ScopeLister   = (*DocumentStore)(nil)
	_ storage.EventStore    = (*EventStore)(nil)
	_ storage.AuditStore    = (*AuditStore)(nil)
)

// DocumentStore implements storage.DocumentStore on the documents table.
type DocumentStore struct {
	db    *sql.DB
	locks storage.KeyLocker
}

// Documents returns the document store of d. Writers to the same key are
// serialized through locks.
func (d *DB) Documents(locks storage.KeyLocker) *DocumentStore {
	if locks == nil {
		locks = storage.NewKeyLocks()
	}
	return &DocumentStore{db: d.db, locks: locks}
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDocument(ctx context.Context, q queryer, key types.DocumentKey) (*types.DocumentRecord, error) {
	var body, etag string
	err := q.QueryRowContext(ctx, `
		SELECT body, etag FROM documents
		WHERE tenant_id = ? AND user_id = ? AND namespace = ? AND path = ?`,
		key.TenantID, key.UserID, key.Namespace, key.Path,
	).Scan(&body, &etag)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("get document", err)
	}
	env, err := storage.DecodeEnvelope([]byte(body))
	if err != nil {
		return nil, err
	}
	return &types.DocumentRecord{Envelope: env, ETag: etag}, nil
}

// Get implements storage.DocumentStore.
func (s *DocumentStore) Get(ctx context.Context, key types.DocumentKey) (*types.DocumentRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return getDocument(ctx, s.db, key)
}

// Upsert implements storage.DocumentStore. The precondition check and the
// write share one transaction.
func (s *DocumentStore) Upsert(ctx context.Context, key types.DocumentKey, env types.DocumentEnvelope, expectedETag string) (*types.DocumentRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	release, err := s.locks.Lock(ctx, "sqlite:"+key.String())
	if err != nil {
		return nil, err
	}
	defer release()

	data, err := storage.EncodeEnvelope(env)
	if err != nil {
		return nil, err
	}
	stored, err := storage.DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	etag := storage.ETag(data)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError("begin transaction", err)
	}
	defer tx.Rollback()

	current, err := getDocument(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	if err := storage.CheckPrecondition(current, expectedETag); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (tenant_id, user_id, namespace, path, body, etag, schema_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, user_id, namespace, path) DO UPDATE SET
			body = excluded.body,
			etag = excluded.etag,
			schema_id = excluded.schema_id,
			updated_at = excluded.updated_at`,
		key.TenantID, key.UserID, key.Namespace, key.Path,
		string(data), etag, stored.SchemaID, stored.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, storageError("upsert document", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageError("commit document", err)
	}
	return &types.DocumentRecord{Envelope: stored, ETag: etag}, nil
}

// Exists implements storage.DocumentStore.
func (s *DocumentStore) Exists(ctx context.Context, key types.DocumentKey) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM documents
		WHERE tenant_id = ? AND user_id = ? AND namespace = ? AND path = ?`,
		key.TenantID, key.UserID, key.Namespace, key.Path,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storageError("check document", err)
	}
	return true, nil
}

// List implements storage.DocumentStore. Glob filtering happens in Go, so
// the limit is applied after matching.
func (s *DocumentStore) List(ctx context.Context, tenantID, userID string, opts storage.ListOptions) ([]types.DocumentListItem, error) {
	if err := types.ValidateScope(tenantID, userID); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.Normalize()

	query := `
		SELECT namespace, path, etag, schema_id, updated_at, length(CAST(body AS BLOB))
		FROM documents
		WHERE tenant_id = ? AND user_id = ?`
	args := []any{tenantID, userID}
	if opts.Namespace != "" {
		query += " AND namespace = ?"
		args = append(args, opts.Namespace)
	}
	query += " ORDER BY namespace, path"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("list documents", err)
	}
	defer rows.Close()

	var items []types.DocumentListItem
	for rows.Next() {
		var it types.DocumentListItem
		var updatedAt string
		if err := rows.Scan(&it.Namespace, &it.Path, &it.ETag, &it.SchemaID, &updatedAt, &it.Size); err != nil {
			return nil, storageError("scan document", err)
		}
		if !opts.Matches(it.Namespace, it.Path) {
			continue
		}
		it.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, types.Internal(types.CodeCorruptState, fmt.Sprintf("bad updated_at for %s/%s", it.Namespace, it.Path), err)
		}
		items = append(items, it)
		if len(items) == opts.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list documents", err)
	}
	return items, nil
}

// DeleteScope implements storage.DocumentStore.
func (s *DocumentStore) DeleteScope(ctx context.Context, tenantID, userID string) (int, error) {
	return deleteScope(ctx, s.db, "documents", tenantID, userID)
}

// Scopes implements storage.ScopeLister.
func (s *DocumentStore) Scopes(ctx context.Context) ([]storage.Scope, error) {
	return listScopes(ctx, s.db, "documents")
}

// listScopes returns the distinct tenant/user pairs with rows in table. The
// table name is always a constant from this package.
func listScopes(ctx context.Context, db *sql.DB, table string) ([]storage.Scope, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT DISTINCT tenant_id, user_id FROM "+table+" ORDER BY tenant_id, user_id")
	if err != nil {
		return nil, storageError("list scopes", err)
	}
	defer rows.Close()

	var scopes []storage.Scope
	for rows.Next() {
		var sc storage.Scope
		if err := rows.Scan(&sc.TenantID, &sc.UserID); err != nil {
			return nil, storageError("scan scope", err)
		}
		scopes = append(scopes, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list scopes", err)
	}
	return scopes, nil
}

// deleteScope removes every row of a scope from table. The table name is
// always a constant from this package.
func deleteScope(ctx context.Context, db *sql.DB, table, tenantID, userID string) (int, error) {
	if err := types.ValidateScope(tenantID, userID); err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE tenant_id = ? AND user_id = ?", tenantID, userID)
	if err != nil {
		return 0, storageError("delete scope", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageError("delete scope", err)
	}
	return int(n), nil
}

// deleteBefore removes rows of a scope whose timestamp is strictly before
// cutoff.
func deleteBefore(ctx context.Context, db *sql.DB, table, tenantID, userID string, cutoff time.Time) (int, error) {
	if err := types.ValidateScope(tenantID, userID); err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE tenant_id = ? AND user_id = ? AND ts < ?",
		tenantID, userID, cutoff.UnixNano())
	if err != nil {
		return 0, storageError("delete before", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageError("delete before", err)
	}
	return int(n), nil
}
