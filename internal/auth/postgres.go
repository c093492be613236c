package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"linkgate.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

const pgUniqueViolation = "23505"

// PGStore implements Store using PostgreSQL. Every statement is parameterized.
type PGStore struct {
	db *sql.DB
}

// NewPGStore returns the Postgres-backed Store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Nonces(context.Context) NonceStore     { return &pgNonceStore{db: s.db} }
func (s *PGStore) Fences(context.Context) FenceStore     { return &pgFenceStore{db: s.db} }
func (s *PGStore) Links(context.Context) LinkStore       { return &pgLinkStore{db: s.db} }
func (s *PGStore) Accounts(context.Context) AccountStore { return &pgAccountStore{db: s.db} }

// Nonce store --------------------------------------------------------------
type pgNonceStore struct{ db *sql.DB }

func (s *pgNonceStore) Insert(ctx context.Context, n Nonce) error {
	if n.ID == "" {
		n.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into nonces(id, state, created_at) values($1,$2,$3)`,
		n.ID, n.Value, n.CreatedAt.UTC(),
	)
	return err
}

func (s *pgNonceStore) Consume(ctx context.Context, value string) (time.Time, error) {
	var created time.Time
	err := s.db.QueryRowContext(ctx,
		`delete from nonces where state=$1 returning created_at`, value,
	).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return created, nil
}

func (s *pgNonceStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from nonces where created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Fence store --------------------------------------------------------------
type pgFenceStore struct{ db *sql.DB }

func (s *pgFenceStore) Find(ctx context.Context, userID string) (FenceRecord, error) {
	var (
		rec     FenceRecord
		in, out sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`select user_id, last_logged_in, last_logged_out from session_fences where user_id=$1`, userID,
	).Scan(&rec.UserID, &in, &out)
	if errors.Is(err, sql.ErrNoRows) {
		return FenceRecord{}, ErrNotFound
	}
	if err != nil {
		return FenceRecord{}, err
	}
	rec.LastLoggedIn = fromEpoch(in)
	rec.LastLoggedOut = fromEpoch(out)
	return rec, nil
}

func (s *pgFenceStore) TouchLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		insert into session_fences(user_id, last_logged_in) values($1,$2)
		on conflict (user_id) do update
		set last_logged_in = greatest(coalesce(session_fences.last_logged_in, 0), excluded.last_logged_in)
	`, userID, at.Unix())
	return err
}

func (s *pgFenceStore) TouchLogout(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		insert into session_fences(user_id, last_logged_out) values($1,$2)
		on conflict (user_id) do update
		set last_logged_out = greatest(coalesce(session_fences.last_logged_out, 0), excluded.last_logged_out)
	`, userID, at.Unix())
	return err
}

func (s *pgFenceStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from session_fences where user_id=$1`, userID)
	return err
}

func fromEpoch(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

// Link store ---------------------------------------------------------------
type pgLinkStore struct{ db *sql.DB }

func (s *pgLinkStore) UserForRemote(ctx context.Context, remoteID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `select id from accounts where remote_id=$1`, remoteID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return id, err
}

func (s *pgLinkStore) RemoteForUser(ctx context.Context, userID string) (string, error) {
	var remote sql.NullString
	err := s.db.QueryRowContext(ctx, `select remote_id from accounts where id=$1`, userID).Scan(&remote)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return remote.String, nil
}

func (s *pgLinkStore) Link(ctx context.Context, userID, remoteID string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(remoteID) == "" {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx,
		`update accounts set remote_id=$2 where id=$1 and (remote_id is null or remote_id=$2)`,
		userID, remoteID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRemoteIdentityTaken
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var current sql.NullString
	err = s.db.QueryRowContext(ctx, `select remote_id from accounts where id=$1`, userID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrAlreadyLinked
}

func (s *pgLinkStore) Unlink(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `update accounts set remote_id=null where id=$1`, userID)
	return err
}

// Account store ------------------------------------------------------------
type pgAccountStore struct{ db *sql.DB }

func (s *pgAccountStore) Create(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	var remote any
	if a.RemoteID != "" {
		remote = a.RemoteID
	}
	_, err := s.db.ExecContext(ctx,
		`insert into accounts(id, login, password_hash, remote_id) values($1,$2,$3,$4)`,
		a.ID, a.Login, a.PasswordHash, remote,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *pgAccountStore) Find(ctx context.Context, id string) (*Account, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select id, login, password_hash, remote_id, created_at from accounts where id=$1`, id))
}

func (s *pgAccountStore) FindByLogin(ctx context.Context, login string) (*Account, error) {
	return s.scanOne(s.db.QueryRowContext(ctx,
		`select id, login, password_hash, remote_id, created_at from accounts where login=$1`, login))
}

func (s *pgAccountStore) scanOne(row *sql.Row) (*Account, error) {
	var (
		a      Account
		remote sql.NullString
	)
	if err := row.Scan(&a.ID, &a.Login, &a.PasswordHash, &remote, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.RemoteID = remote.String
	return &a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
