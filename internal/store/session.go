package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
)

// SaveSession replaces the device session.
func (s *Store) SaveSession(ctx context.Context, sess domain.Session) error {
	return saveSession(ctx, s.db, sess)
}

// LoadSession returns the stored session, or NotFound. Expiry is left to
// the caller.
func (s *Store) LoadSession(ctx context.Context) (*domain.Session, error) {
	var (
		sess             domain.Session
		metadata         string
		expires, created int64
		tokenExpires     sql.NullInt64
		signedOut        int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, store_id, email, metadata, mode, expires_at, access_token,
			token_expires_at, signed_out, created_at
		FROM sessions WHERE slot = 1`).Scan(
		&sess.SessionID, &sess.UserID, &sess.StoreID, &sess.Email, &metadata, &sess.Mode,
		&expires, &sess.AccessToken, &tokenExpires, &signedOut, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("session", "device")
	}
	if err != nil {
		return nil, apperrors.Persistence("load session", err)
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &sess.Metadata); err != nil {
			return nil, apperrors.Persistence("decode session metadata", err)
		}
	}
	sess.ExpiresAt = fromNanos(expires)
	if tokenExpires.Valid {
		t := fromNanos(tokenExpires.Int64)
		sess.TokenExpiresAt = &t
	}
	sess.CreatedAt = fromNanos(created)
	sess.SignedOut = signedOut == 1
	return &sess, nil
}

// MarkSessionSignedOut flags the stored session as signed out, keeping it
// for a later offline sign-in.
func (s *Store) MarkSessionSignedOut(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET signed_out = 1 WHERE slot = 1`); err != nil {
		return apperrors.Persistence("sign out session", err)
	}
	return nil
}

// ClearSession deletes the stored session.
func (s *Store) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return apperrors.Persistence("clear session", err)
	}
	return nil
}

// SaveCredential replaces the device credential.
func (s *Store) SaveCredential(ctx context.Context, cred domain.Credential) error {
	return s.saveCredential(ctx, s.db, cred)
}

// LoadCredential returns the stored credential, or NotFound.
func (s *Store) LoadCredential(ctx context.Context) (*domain.Credential, error) {
	var (
		cred    domain.Credential
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT email, hashed_password, salt, updated_at FROM credentials WHERE slot = 1`).Scan(
		&cred.Email, &cred.HashedPassword, &cred.Salt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("credential", "device")
	}
	if err != nil {
		return nil, apperrors.Persistence("load credential", err)
	}
	cred.UpdatedAt = fromNanos(updated)
	return &cred, nil
}

// ClearCredential deletes the stored credential.
func (s *Store) ClearCredential(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return apperrors.Persistence("clear credential", err)
	}
	return nil
}

// SaveLogin stores a session and credential together, as after an online
// sign-in.
func (s *Store) SaveLogin(ctx context.Context, sess domain.Session, cred domain.Credential) error {
	return s.withTx(ctx, "save login", func(tx *sql.Tx) error {
		if err := saveSession(ctx, tx, sess); err != nil {
			return err
		}
		return s.saveCredential(ctx, tx, cred)
	})
}

// ClearLogin removes both the session and the credential.
func (s *Store) ClearLogin(ctx context.Context) error {
	return s.withTx(ctx, "clear login", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
			return apperrors.Persistence("clear session", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
			return apperrors.Persistence("clear credential", err)
		}
		return nil
	})
}

func saveSession(ctx context.Context, ex execer, sess domain.Session) error {
	metadata := []byte("{}")
	if len(sess.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(sess.Metadata); err != nil {
			return apperrors.InvalidInput("session metadata is not encodable")
		}
	}
	var tokenExpires sql.NullInt64
	if sess.TokenExpiresAt != nil {
		tokenExpires = sql.NullInt64{Int64: sess.TokenExpiresAt.UTC().UnixNano(), Valid: true}
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO sessions (slot, session_id, user_id, store_id, email, metadata, mode, expires_at,
			access_token, token_expires_at, signed_out, created_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (slot) DO UPDATE SET
			session_id = excluded.session_id,
			user_id = excluded.user_id,
			store_id = excluded.store_id,
			email = excluded.email,
			metadata = excluded.metadata,
			mode = excluded.mode,
			expires_at = excluded.expires_at,
			access_token = excluded.access_token,
			token_expires_at = excluded.token_expires_at,
			signed_out = excluded.signed_out,
			created_at = excluded.created_at`,
		sess.SessionID, sess.UserID, sess.StoreID, sess.Email, string(metadata), sess.Mode,
		sess.ExpiresAt.UTC().UnixNano(), sess.AccessToken, tokenExpires, boolInt(sess.SignedOut),
		sess.CreatedAt.UTC().UnixNano())
	if err != nil {
		return apperrors.Persistence("save session", err)
	}
	return nil
}

func (s *Store) saveCredential(ctx context.Context, ex execer, cred domain.Credential) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO credentials (slot, email, hashed_password, salt, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (slot) DO UPDATE SET
			email = excluded.email,
			hashed_password = excluded.hashed_password,
			salt = excluded.salt,
			updated_at = excluded.updated_at`,
		cred.Email, cred.HashedPassword, cred.Salt, s.nowNanos())
	if err != nil {
		return apperrors.Persistence("save credential", err)
	}
	return nil
}
