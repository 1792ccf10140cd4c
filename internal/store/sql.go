package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/example/appauth/internal/domain"
)

// dialect captures what differs between the SQL backends.
type dialect interface {
	placeholder(n int) string
	// list adapts a string slice to a column value and scan destination.
	list(v *[]string) any
	isUniqueViolation(err error) bool
}

// sqlDB implements Store for database/sql backends. Queries are written with
// '?' placeholders and rebound per dialect.
type sqlDB struct {
	db *sql.DB
	d  dialect
}

func (s *sqlDB) rebind(q string) string {
	if s.d.placeholder(1) == "?" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString(s.d.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlDB) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(q), args...)
}

func (s *sqlDB) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(q), args...)
}

func (s *sqlDB) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *sqlDB) Close() error                   { return s.db.Close() }

// DB exposes the underlying handle, for migrations and tests.
func (s *sqlDB) DB() *sql.DB { return s.db }

type scanner interface {
	Scan(dest ...any) error
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func fromNullUnix(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnix(n.Int64)
	return &t
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }

// ---- users

const userColumns = `id,name,email,password,created_at`

func scanUser(sc scanner) (*domain.User, error) {
	var u domain.User
	var created int64
	if err := sc.Scan(&u.ID, &u.Name, &u.Email, &u.Password, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.CreatedAt = fromUnix(created)
	return &u, nil
}

func (s *sqlDB) CreateUser(ctx context.Context, u *domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.CreatedAt = truncate(u.CreatedAt)
	err := s.queryRow(ctx, `INSERT INTO users(name,email,password,created_at) VALUES(?,?,?,?) RETURNING id`,
		u.Name, u.Email, u.Password, unix(u.CreatedAt)).Scan(&u.ID)
	if err != nil {
		if s.d.isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (s *sqlDB) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	u, err := scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return u, nil
}

func (s *sqlDB) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	u, err := scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower(?)`, email))
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return u, nil
}

func (s *sqlDB) UpdateUser(ctx context.Context, u *domain.User) error {
	res, err := s.exec(ctx, `UPDATE users SET name = ?, email = ?, password = ? WHERE id = ?`, u.Name, u.Email, u.Password, u.ID)
	if err != nil {
		if s.d.isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("updating user: %w", err)
	}
	return requireRow(res)
}

// DeleteUser removes the user and everything it owns in one transaction.
func (s *sqlDB) DeleteUser(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	steps := []struct {
		what string
		q    string
		args []any
	}{
		{"tokens", `DELETE FROM api_tokens WHERE user_id = ? OR application_id IN (SELECT id FROM applications WHERE user_id = ?)`, []any{id, id}},
		{"applications", `DELETE FROM applications WHERE user_id = ?`, []any{id}},
		{"sessions", `DELETE FROM sessions WHERE user_id = ?`, []any{id}},
	}
	for _, st := range steps {
		if _, err := tx.ExecContext(ctx, s.rebind(st.q), st.args...); err != nil {
			return fmt.Errorf("deleting user %s: %w", st.what, err)
		}
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// ---- sessions

const sessionColumns = `id,user_id,ip,user_agent,expires_at,revoked_at,created_at`

func scanSession(sc scanner) (*domain.Session, error) {
	var ss domain.Session
	var expires, created int64
	var revoked sql.NullInt64
	if err := sc.Scan(&ss.ID, &ss.UserID, &ss.IP, &ss.UserAgent, &expires, &revoked, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	ss.ExpiresAt = fromUnix(expires)
	ss.RevokedAt = fromNullUnix(revoked)
	ss.CreatedAt = fromUnix(created)
	return &ss, nil
}

func (s *sqlDB) CreateSession(ctx context.Context, ss *domain.Session) error {
	ss.CreatedAt = truncate(ss.CreatedAt)
	ss.ExpiresAt = truncate(ss.ExpiresAt)
	_, err := s.exec(ctx, `INSERT INTO sessions(id,user_id,ip,user_agent,expires_at,revoked_at,created_at) VALUES(?,?,?,?,?,?,?)`,
		ss.ID, ss.UserID, ss.IP, ss.UserAgent, unix(ss.ExpiresAt), nullUnix(ss.RevokedAt), unix(ss.CreatedAt))
	if err != nil {
		if s.d.isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (s *sqlDB) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	ss, err := scanSession(s.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return ss, nil
}

// RevokeSession keeps the first revocation time of an already revoked session.
func (s *sqlDB) RevokeSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE sessions SET revoked_at = COALESCE(revoked_at, ?) WHERE id = ?`, unix(at), id)
	if err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return requireRow(res)
}

func (s *sqlDB) RevokeUserSessions(ctx context.Context, userID int64, at time.Time) (int64, error) {
	res, err := s.exec(ctx, `UPDATE sessions SET revoked_at = ? WHERE user_id = ? AND revoked_at IS NULL`, unix(at), userID)
	if err != nil {
		return 0, fmt.Errorf("revoking sessions: %w", err)
	}
	return res.RowsAffected()
}

// ---- applications

const appColumns = `id,user_id,name,description,client_id,client_secret_hash,callback_urls,allowed_scopes,rate_limit,is_active,created_at,updated_at`

func (s *sqlDB) scanApp(sc scanner) (*domain.Application, error) {
	var a domain.Application
	var created, updated int64
	err := sc.Scan(&a.ID, &a.UserID, &a.Name, &a.Description, &a.ClientID, &a.ClientSecretHash,
		s.d.list(&a.CallbackURLs), s.d.list(&a.AllowedScopes), &a.RateLimit, &a.Active, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.CreatedAt = fromUnix(created)
	a.UpdatedAt = fromUnix(updated)
	return &a, nil
}

func (s *sqlDB) CreateApplication(ctx context.Context, a *domain.Application) error {
	a.CreatedAt = truncate(a.CreatedAt)
	a.UpdatedAt = truncate(a.UpdatedAt)
	err := s.queryRow(ctx, `INSERT INTO applications(user_id,name,description,client_id,client_secret_hash,callback_urls,allowed_scopes,rate_limit,is_active,created_at,updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?) RETURNING id`,
		a.UserID, a.Name, a.Description, a.ClientID, a.ClientSecretHash,
		s.d.list(&a.CallbackURLs), s.d.list(&a.AllowedScopes), a.RateLimit, a.Active,
		unix(a.CreatedAt), unix(a.UpdatedAt)).Scan(&a.ID)
	if err != nil {
		if s.d.isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("inserting application: %w", err)
	}
	return nil
}

func (s *sqlDB) GetApplicationByID(ctx context.Context, id int64) (*domain.Application, error) {
	a, err := s.scanApp(s.queryRow(ctx, `SELECT `+appColumns+` FROM applications WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("loading application: %w", err)
	}
	return a, nil
}

func (s *sqlDB) GetApplicationByClientID(ctx context.Context, clientID string) (*domain.Application, error) {
	a, err := s.scanApp(s.queryRow(ctx, `SELECT `+appColumns+` FROM applications WHERE client_id = ?`, clientID))
	if err != nil {
		return nil, fmt.Errorf("loading application: %w", err)
	}
	return a, nil
}

func (s *sqlDB) ListApplications(ctx context.Context, userID int64, page Page) ([]*domain.Application, int, error) {
	where, args := "", []any{}
	if userID != 0 {
		where, args = " WHERE user_id = ?", append(args, userID)
	}
	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM applications`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting applications: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+appColumns+` FROM applications`+where+` ORDER BY id DESC LIMIT ? OFFSET ?`),
		append(args, page.Limit(), page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing applications: %w", err)
	}
	defer rows.Close()
	apps := []*domain.Application{}
	for rows.Next() {
		a, err := s.scanApp(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning application: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, total, rows.Err()
}

func (s *sqlDB) UpdateApplication(ctx context.Context, a *domain.Application) error {
	res, err := s.exec(ctx, `UPDATE applications SET name = ?, description = ?, callback_urls = ?, allowed_scopes = ?, rate_limit = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		a.Name, a.Description, s.d.list(&a.CallbackURLs), s.d.list(&a.AllowedScopes), a.RateLimit, a.Active, unix(a.UpdatedAt), a.ID)
	if err != nil {
		return fmt.Errorf("updating application: %w", err)
	}
	return requireRow(res)
}

func (s *sqlDB) UpdateClientSecret(ctx context.Context, id int64, secretHash string, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE applications SET client_secret_hash = ?, updated_at = ? WHERE id = ?`, secretHash, unix(at), id)
	if err != nil {
		return fmt.Errorf("updating client secret: %w", err)
	}
	return requireRow(res)
}

func (s *sqlDB) SetApplicationActive(ctx context.Context, id int64, active bool, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE applications SET is_active = ?, updated_at = ? WHERE id = ?`, active, unix(at), id)
	if err != nil {
		return fmt.Errorf("updating application status: %w", err)
	}
	return requireRow(res)
}

// DeleteApplication removes the application and every token issued for it in one transaction.
func (s *sqlDB) DeleteApplication(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM api_tokens WHERE application_id = ?`), id); err != nil {
		return fmt.Errorf("deleting application tokens: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM applications WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting application: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

// ---- tokens

const tokenColumns = `id,name,token_hash,abilities,application_id,user_id,expires_at,last_used_at,is_active,created_from_ip,user_agent,created_at,updated_at`

func (s *sqlDB) scanToken(sc scanner) (*domain.Token, error) {
	var t domain.Token
	var expires, lastUsed sql.NullInt64
	var created, updated int64
	err := sc.Scan(&t.ID, &t.Name, &t.TokenHash, s.d.list(&t.Abilities), &t.ApplicationID, &t.UserID,
		&expires, &lastUsed, &t.Active, &t.CreatedFromIP, &t.UserAgent, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.ExpiresAt = fromNullUnix(expires)
	t.LastUsedAt = fromNullUnix(lastUsed)
	t.CreatedAt = fromUnix(created)
	t.UpdatedAt = fromUnix(updated)
	return &t, nil
}

func (s *sqlDB) CreateToken(ctx context.Context, t *domain.Token) error {
	t.CreatedAt = truncate(t.CreatedAt)
	t.UpdatedAt = truncate(t.UpdatedAt)
	t.ExpiresAt = truncatePtr(t.ExpiresAt)
	t.LastUsedAt = truncatePtr(t.LastUsedAt)
	err := s.queryRow(ctx, `INSERT INTO api_tokens(name,token_hash,abilities,application_id,user_id,expires_at,last_used_at,is_active,created_from_ip,user_agent,created_at,updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?) RETURNING id`,
		t.Name, t.TokenHash, s.d.list(&t.Abilities), t.ApplicationID, t.UserID,
		nullUnix(t.ExpiresAt), nullUnix(t.LastUsedAt), t.Active, t.CreatedFromIP, t.UserAgent,
		unix(t.CreatedAt), unix(t.UpdatedAt)).Scan(&t.ID)
	if err != nil {
		if s.d.isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("inserting token: %w", err)
	}
	return nil
}

func (s *sqlDB) GetTokenByID(ctx context.Context, id int64) (*domain.Token, error) {
	t, err := s.scanToken(s.queryRow(ctx, `SELECT `+tokenColumns+` FROM api_tokens WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("loading token: %w", err)
	}
	return t, nil
}

func (s *sqlDB) GetTokenByHash(ctx context.Context, hash string) (*domain.Token, error) {
	t, err := s.scanToken(s.queryRow(ctx, `SELECT `+tokenColumns+` FROM api_tokens WHERE token_hash = ?`, hash))
	if err != nil {
		return nil, fmt.Errorf("loading token: %w", err)
	}
	return t, nil
}

func (f TokenFilter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, a ...any) {
		conds = append(conds, cond)
		args = append(args, a...)
	}
	if f.ApplicationID != 0 {
		add("application_id = ?", f.ApplicationID)
	}
	if f.UserID != 0 {
		add("user_id = ?", f.UserID)
	}
	if f.Active != nil {
		add("is_active = ?", *f.Active)
	}
	if !f.ExpiresBefore.IsZero() {
		add("expires_at IS NOT NULL AND expires_at < ?", unix(f.ExpiresBefore))
	}
	if !f.ExpiresFrom.IsZero() {
		add("expires_at IS NOT NULL AND expires_at >= ?", unix(f.ExpiresFrom))
	}
	if f.NeverExpires {
		add("expires_at IS NULL")
	}
	if f.NeverUsed {
		add("last_used_at IS NULL")
	}
	if !f.UsedSince.IsZero() {
		add("last_used_at IS NOT NULL AND last_used_at >= ?", unix(f.UsedSince))
	}
	if !f.UpdatedBefore.IsZero() {
		add("updated_at < ?", unix(f.UpdatedBefore))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *sqlDB) ListTokens(ctx context.Context, f TokenFilter, page Page) ([]*domain.Token, int, error) {
	total, err := s.CountTokens(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	where, args := f.where()
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+tokenColumns+` FROM api_tokens`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`),
		append(args, page.Limit(), page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing tokens: %w", err)
	}
	defer rows.Close()
	tokens := []*domain.Token{}
	for rows.Next() {
		t, err := s.scanToken(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, total, rows.Err()
}

func (s *sqlDB) CountTokens(ctx context.Context, f TokenFilter) (int, error) {
	where, args := f.where()
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM api_tokens`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting tokens: %w", err)
	}
	return n, nil
}

func (s *sqlDB) TouchToken(ctx context.Context, id int64, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE api_tokens SET last_used_at = ? WHERE id = ?`, unix(at), id)
	if err != nil {
		return fmt.Errorf("marking token used: %w", err)
	}
	return requireRow(res)
}

func (s *sqlDB) RevokeToken(ctx context.Context, id int64, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE api_tokens SET is_active = ?, updated_at = ? WHERE id = ?`, false, unix(at), id)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return requireRow(res)
}

func (s *sqlDB) RevokeTokens(ctx context.Context, f TokenFilter, at time.Time) (int64, error) {
	f.Active = Bool(true)
	where, args := f.where()
	res, err := s.exec(ctx, `UPDATE api_tokens SET is_active = ?, updated_at = ?`+where, append([]any{false, unix(at)}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("revoking tokens: %w", err)
	}
	return res.RowsAffected()
}

// DeleteTokens deletes at most limit matching tokens, lowest ids first.
func (s *sqlDB) DeleteTokens(ctx context.Context, f TokenFilter, limit int) (int64, error) {
	where, args := f.where()
	q := `DELETE FROM api_tokens WHERE id IN (SELECT id FROM api_tokens` + where + ` ORDER BY id`
	if limit > 0 {
		q += ` LIMIT ` + strconv.Itoa(limit)
	}
	q += `)`
	res, err := s.exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting tokens: %w", err)
	}
	return res.RowsAffected()
}
