package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
)

const queueColumns = `domain, id, store_id, idempotency_key, payload, synced, status,
	attempts, last_error, response, created_at, updated_at, synced_at, revision`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Put upserts item by (domain, id). The item becomes unsynced and pending
// with a new revision; created_at is set on first insert only.
func (s *Store) Put(ctx context.Context, item domain.QueueItem) error {
	if err := s.putItem(ctx, s.db, item); err != nil {
		return persistErr("put "+string(item.Domain), err)
	}
	return nil
}

func (s *Store) putItem(ctx context.Context, ex execer, item domain.QueueItem) error {
	if item.Domain == "" || item.ID == "" {
		return apperrors.InvalidInput("queue item requires domain and id")
	}
	if item.IdempotencyKey == "" {
		item.IdempotencyKey = item.ID
	}
	now := s.nowNanos()
	createdAt := now
	if !item.CreatedAt.IsZero() {
		createdAt = item.CreatedAt.UTC().UnixNano()
	}

	_, err := ex.ExecContext(ctx, `
		INSERT INTO queue_items (domain, id, store_id, idempotency_key, payload, synced, status,
			attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 'pending', 0, '', ?, ?)
		ON CONFLICT (domain, id) DO UPDATE SET
			store_id = excluded.store_id,
			idempotency_key = excluded.idempotency_key,
			payload = excluded.payload,
			synced = 0,
			status = 'pending',
			last_error = '',
			synced_at = NULL,
			revision = queue_items.revision + 1,
			updated_at = excluded.updated_at`,
		item.Domain, item.ID, item.StoreID, item.IdempotencyKey, []byte(item.Payload), createdAt, now,
	)
	return err
}

// Enqueue inserts item unless (domain, id) already exists. It reports
// whether a new item was created.
func (s *Store) Enqueue(ctx context.Context, item domain.QueueItem) (bool, error) {
	if item.Domain == "" || item.ID == "" {
		return false, apperrors.InvalidInput("queue item requires domain and id")
	}
	if item.IdempotencyKey == "" {
		item.IdempotencyKey = item.ID
	}
	now := s.nowNanos()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_items (domain, id, store_id, idempotency_key, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain, id) DO NOTHING`,
		item.Domain, item.ID, item.StoreID, item.IdempotencyKey, []byte(item.Payload), now, now,
	)
	if err != nil {
		return false, apperrors.Persistence("enqueue "+string(item.Domain), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Persistence("enqueue "+string(item.Domain), err)
	}
	return n == 1, nil
}

// QueryUnsynced returns the pending items of d for storeID, oldest first.
// Failed items are excluded until retried.
func (s *Store) QueryUnsynced(ctx context.Context, d domain.Domain, storeID string) ([]domain.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM queue_items
		WHERE domain = ? AND store_id = ? AND synced = 0 AND status = 'pending'
		ORDER BY created_at, rowid`, d, storeID)
	if err != nil {
		return nil, apperrors.Persistence("query unsynced "+string(d), err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, apperrors.Persistence("query unsynced "+string(d), err)
	}
	return items, nil
}

// Get returns one item.
func (s *Store) Get(ctx context.Context, d domain.Domain, id string) (*domain.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+queueColumns+` FROM queue_items WHERE domain = ? AND id = ?`, d, id)
	if err != nil {
		return nil, apperrors.Persistence("get "+string(d), err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, apperrors.Persistence("get "+string(d), err)
	}
	if len(items) == 0 {
		return nil, apperrors.NotFound(string(d)+" item", id)
	}
	return &items[0], nil
}

// MarkSynced records a successful sync of revision rev. Calling it again for
// an already synced item changes nothing. If the item was rewritten since
// rev was read it stays pending and ErrConflict is returned.
func (s *Store) MarkSynced(ctx context.Context, d domain.Domain, id string, rev int64, response json.RawMessage) error {
	return s.withTx(ctx, "mark synced", func(tx *sql.Tx) error {
		now := s.nowNanos()
		res, err := tx.ExecContext(ctx, `
			UPDATE queue_items
			SET synced = 1, status = 'success', response = ?, last_error = '', synced_at = ?, updated_at = ?
			WHERE domain = ? AND id = ? AND synced = 0 AND revision = ?`,
			nullableJSON(response), now, now, d, id, rev)
		if err != nil {
			return apperrors.Persistence("mark synced", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return s.requireRevision(ctx, tx, d, id, rev)
		}
		if d == domain.DomainProducts {
			if _, err := tx.ExecContext(ctx,
				`UPDATE products SET synced = 1 WHERE id = ?`, id); err != nil {
				return apperrors.Persistence("mark product synced", err)
			}
		}
		return nil
	})
}

// MarkFailed moves revision rev of a pending item to failed with reason. A
// rewritten item stays pending and ErrConflict is returned.
func (s *Store) MarkFailed(ctx context.Context, d domain.Domain, id string, rev int64, reason string) error {
	return s.updateItem(ctx, "mark failed", d, id, rev, `
		UPDATE queue_items
		SET status = 'failed', attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE domain = ? AND id = ? AND synced = 0 AND revision = ?`, reason, s.nowNanos(), d, id, rev)
}

// RecordAttempt notes a deferred attempt on revision rev of a pending item.
func (s *Store) RecordAttempt(ctx context.Context, d domain.Domain, id string, rev int64, lastErr string) error {
	return s.updateItem(ctx, "record attempt", d, id, rev, `
		UPDATE queue_items
		SET attempts = attempts + 1, last_error = ?, updated_at = ?
		WHERE domain = ? AND id = ? AND synced = 0 AND revision = ?`, lastErr, s.nowNanos(), d, id, rev)
}

// RetryFailed returns a failed item to the pending queue.
func (s *Store) RetryFailed(ctx context.Context, d domain.Domain, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_items SET status = 'pending', updated_at = ?
		WHERE domain = ? AND id = ? AND status = 'failed'`, s.nowNanos(), d, id)
	if err != nil {
		return apperrors.Persistence("retry failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("failed "+string(d)+" item", id)
	}
	return nil
}

// ListFailed pages through failed items of d, newest first.
func (s *Store) ListFailed(ctx context.Context, d domain.Domain, limit, offset int) ([]domain.QueueItem, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_items WHERE domain = ? AND status = 'failed'`, d).Scan(&total); err != nil {
		return nil, 0, apperrors.Persistence("count failed", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM queue_items
		WHERE domain = ? AND status = 'failed'
		ORDER BY updated_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, d, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Persistence("list failed", err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, 0, apperrors.Persistence("list failed", err)
	}
	return items, total, nil
}

// Counts summarizes the queue of d across all stores.
func (s *Store) Counts(ctx context.Context, d domain.Domain) (domain.QueueCounts, error) {
	var c domain.QueueCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN synced = 0 AND status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(synced), 0)
		FROM queue_items WHERE domain = ?`, d).Scan(&c.Pending, &c.Failed, &c.Synced)
	if err != nil {
		return c, apperrors.Persistence("count "+string(d), err)
	}
	return c, nil
}

func (s *Store) updateItem(ctx context.Context, op string, d domain.Domain, id string, rev int64, query string, args ...any) error {
	return s.withTx(ctx, op, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return apperrors.Persistence(op, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return s.requireRevision(ctx, tx, d, id, rev)
		}
		return nil
	})
}

// requireRevision explains an update that matched no row: NotFound when
// (d, id) does not exist, Conflict when it was rewritten after rev was read,
// and nil for a no-op on an already settled item.
func (s *Store) requireRevision(ctx context.Context, tx *sql.Tx, d domain.Domain, id string, rev int64) error {
	var current int64
	err := tx.QueryRowContext(ctx, `SELECT revision FROM queue_items WHERE domain = ? AND id = ?`, d, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NotFound(string(d)+" item", id)
	}
	if err != nil {
		return apperrors.Persistence("lookup item", err)
	}
	if current != rev {
		return apperrors.Conflict(fmt.Sprintf("%s item %s changed from revision %d to %d", d, id, rev, current))
	}
	return nil
}

func scanItems(rows *sql.Rows) ([]domain.QueueItem, error) {
	var items []domain.QueueItem
	for rows.Next() {
		var (
			it                domain.QueueItem
			payload, response []byte
			synced            int
			created, updated  int64
			syncedAt          sql.NullInt64
		)
		if err := rows.Scan(&it.Domain, &it.ID, &it.StoreID, &it.IdempotencyKey, &payload, &synced,
			&it.Status, &it.Attempts, &it.LastError, &response, &created, &updated, &syncedAt, &it.Revision); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		it.Payload = json.RawMessage(payload)
		if len(response) > 0 {
			it.Response = json.RawMessage(response)
		}
		it.Synced = synced == 1
		it.CreatedAt = fromNanos(created)
		it.UpdatedAt = fromNanos(updated)
		if syncedAt.Valid {
			t := fromNanos(syncedAt.Int64)
			it.SyncedAt = &t
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
