package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/appauth/internal/domain"
)

// MemDB keeps everything in process. Records are copied in and out so
// callers never share state with the store.
type MemDB struct {
	mu       sync.RWMutex
	users    map[int64]*domain.User
	apps     map[int64]*domain.Application
	tokens   map[int64]*domain.Token
	sessions map[string]*domain.Session
	userSeq  int64
	appSeq   int64
	tokSeq   int64
}

var _ Store = (*MemDB)(nil)

func NewMemoryDB() *MemDB {
	return &MemDB{
		users:    map[int64]*domain.User{},
		apps:     map[int64]*domain.Application{},
		tokens:   map[int64]*domain.Token{},
		sessions: map[string]*domain.Session{},
	}
}

func (m *MemDB) Init(ctx context.Context) error { return nil }
func (m *MemDB) Ping(ctx context.Context) error { return nil }
func (m *MemDB) Close() error                   { return nil }

func copyUser(u *domain.User) *domain.User {
	c := *u
	return &c
}

func copyApp(a *domain.Application) *domain.Application {
	c := *a
	c.AllowedScopes = slices.Clone(a.AllowedScopes)
	c.CallbackURLs = slices.Clone(a.CallbackURLs)
	return &c
}

func copySession(s *domain.Session) *domain.Session {
	c := *s
	c.RevokedAt = truncatePtr(s.RevokedAt)
	return &c
}

func copyToken(t *domain.Token) *domain.Token {
	c := *t
	c.Abilities = slices.Clone(t.Abilities)
	c.ExpiresAt = truncatePtr(t.ExpiresAt)
	c.LastUsedAt = truncatePtr(t.LastUsedAt)
	return &c
}

func (m *MemDB) CreateUser(ctx context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return domain.ErrConflict
		}
	}
	m.userSeq++
	u.ID = m.userSeq
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.CreatedAt = truncate(u.CreatedAt)
	m.users[u.ID] = copyUser(u)
	return nil
}

func (m *MemDB) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[id]; ok {
		return copyUser(u), nil
	}
	return nil, nil
}

func (m *MemDB) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return copyUser(u), nil
		}
	}
	return nil, nil
}

func (m *MemDB) UpdateUser(ctx context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return domain.ErrNotFound
	}
	for _, existing := range m.users {
		if existing.ID != u.ID && strings.EqualFold(existing.Email, u.Email) {
			return domain.ErrConflict
		}
	}
	c := copyUser(u)
	c.CreatedAt = m.users[u.ID].CreatedAt
	m.users[u.ID] = c
	return nil
}

func (m *MemDB) DeleteUser(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return domain.ErrNotFound
	}
	owned := map[int64]bool{}
	for aid, a := range m.apps {
		if a.UserID == id {
			owned[aid] = true
			delete(m.apps, aid)
		}
	}
	for tid, t := range m.tokens {
		if t.UserID == id || owned[t.ApplicationID] {
			delete(m.tokens, tid)
		}
	}
	for sid, s := range m.sessions {
		if s.UserID == id {
			delete(m.sessions, sid)
		}
	}
	delete(m.users, id)
	return nil
}

func (m *MemDB) CreateSession(ctx context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[s.UserID]; !ok {
		return domain.ErrNotFound
	}
	if _, ok := m.sessions[s.ID]; ok {
		return domain.ErrConflict
	}
	s.CreatedAt = truncate(s.CreatedAt)
	s.ExpiresAt = truncate(s.ExpiresAt)
	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *MemDB) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[id]; ok {
		return copySession(s), nil
	}
	return nil, nil
}

func (m *MemDB) RevokeSession(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if s.RevokedAt == nil {
		at = truncate(at)
		s.RevokedAt = &at
	}
	return nil
}

func (m *MemDB) RevokeUserSessions(ctx context.Context, userID int64, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at = truncate(at)
	var n int64
	for _, s := range m.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			revoked := at
			s.RevokedAt = &revoked
			n++
		}
	}
	return n, nil
}

func (m *MemDB) CreateApplication(ctx context.Context, a *domain.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.apps {
		if existing.ClientID == a.ClientID {
			return domain.ErrConflict
		}
	}
	m.appSeq++
	a.ID = m.appSeq
	a.CreatedAt = truncate(a.CreatedAt)
	a.UpdatedAt = truncate(a.UpdatedAt)
	m.apps[a.ID] = copyApp(a)
	return nil
}

func (m *MemDB) GetApplicationByID(ctx context.Context, id int64) (*domain.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.apps[id]; ok {
		return copyApp(a), nil
	}
	return nil, nil
}

func (m *MemDB) GetApplicationByClientID(ctx context.Context, clientID string) (*domain.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.apps {
		if a.ClientID == clientID {
			return copyApp(a), nil
		}
	}
	return nil, nil
}

func (m *MemDB) ListApplications(ctx context.Context, userID int64, page Page) ([]*domain.Application, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []*domain.Application
	for _, a := range m.apps {
		if userID == 0 || a.UserID == userID {
			all = append(all, a)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	out := []*domain.Application{}
	for _, a := range paginate(all, page) {
		out = append(out, copyApp(a))
	}
	return out, len(all), nil
}

func (m *MemDB) UpdateApplication(ctx context.Context, a *domain.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.apps[a.ID]
	if !ok {
		return domain.ErrNotFound
	}
	cur.Name = a.Name
	cur.Description = a.Description
	cur.CallbackURLs = slices.Clone(a.CallbackURLs)
	cur.AllowedScopes = slices.Clone(a.AllowedScopes)
	cur.RateLimit = a.RateLimit
	cur.Active = a.Active
	cur.UpdatedAt = truncate(a.UpdatedAt)
	return nil
}

func (m *MemDB) UpdateClientSecret(ctx context.Context, id int64, secretHash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.apps[id]
	if !ok {
		return domain.ErrNotFound
	}
	cur.ClientSecretHash = secretHash
	cur.UpdatedAt = truncate(at)
	return nil
}

func (m *MemDB) SetApplicationActive(ctx context.Context, id int64, active bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.apps[id]
	if !ok {
		return domain.ErrNotFound
	}
	cur.Active = active
	cur.UpdatedAt = truncate(at)
	return nil
}

func (m *MemDB) DeleteApplication(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[id]; !ok {
		return domain.ErrNotFound
	}
	for tid, t := range m.tokens {
		if t.ApplicationID == id {
			delete(m.tokens, tid)
		}
	}
	delete(m.apps, id)
	return nil
}

func (m *MemDB) CreateToken(ctx context.Context, t *domain.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apps[t.ApplicationID]; !ok {
		return domain.ErrNotFound
	}
	for _, existing := range m.tokens {
		if existing.TokenHash == t.TokenHash {
			return domain.ErrConflict
		}
	}
	m.tokSeq++
	t.ID = m.tokSeq
	t.CreatedAt = truncate(t.CreatedAt)
	t.UpdatedAt = truncate(t.UpdatedAt)
	t.ExpiresAt = truncatePtr(t.ExpiresAt)
	t.LastUsedAt = truncatePtr(t.LastUsedAt)
	m.tokens[t.ID] = copyToken(t)
	return nil
}

func (m *MemDB) GetTokenByID(ctx context.Context, id int64) (*domain.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tokens[id]; ok {
		return copyToken(t), nil
	}
	return nil, nil
}

func (m *MemDB) GetTokenByHash(ctx context.Context, hash string) (*domain.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash {
			return copyToken(t), nil
		}
	}
	return nil, nil
}

func (m *MemDB) matching(f TokenFilter) []*domain.Token {
	var out []*domain.Token
	for _, t := range m.tokens {
		if f.match(t) {
			out = append(out, t)
		}
	}
	return out
}

func (m *MemDB) ListTokens(ctx context.Context, f TokenFilter, page Page) ([]*domain.Token, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.matching(f)
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	out := []*domain.Token{}
	for _, t := range paginate(all, page) {
		out = append(out, copyToken(t))
	}
	return out, len(all), nil
}

func (m *MemDB) CountTokens(ctx context.Context, f TokenFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.matching(f)), nil
}

func (m *MemDB) TouchToken(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return domain.ErrNotFound
	}
	v := truncate(at)
	t.LastUsedAt = &v
	return nil
}

func (m *MemDB) RevokeToken(ctx context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Active = false
	t.UpdatedAt = truncate(at)
	return nil
}

func (m *MemDB) RevokeTokens(ctx context.Context, f TokenFilter, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.Active = Bool(true)
	var n int64
	for _, t := range m.matching(f) {
		t.Active = false
		t.UpdatedAt = truncate(at)
		n++
	}
	return n, nil
}

func (m *MemDB) DeleteTokens(ctx context.Context, f TokenFilter, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	victims := m.matching(f)
	sort.Slice(victims, func(i, j int) bool { return victims[i].ID < victims[j].ID })
	if limit > 0 && len(victims) > limit {
		victims = victims[:limit]
	}
	for _, t := range victims {
		delete(m.tokens, t.ID)
	}
	return int64(len(victims)), nil
}

func paginate[T any](all []T, page Page) []T {
	off := page.Offset()
	if off < 0 || off >= len(all) {
		return nil
	}
	end := off + page.Limit()
	if end > len(all) {
		end = len(all)
	}
	return all[off:end]
}
