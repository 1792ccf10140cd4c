package tokens

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/example/appauth/internal/store"
)

// Filter scopes statistics to one application and/or user. Zero fields do not filter.
type Filter struct {
	ApplicationID int64
	UserID        int64
}

// ScopeCount is the number of tokens carrying one ability.
type ScopeCount struct {
	Scope string `json:"scope"`
	Count int    `json:"count"`
}

// Stats summarizes token state and usage at GeneratedAt.
type Stats struct {
	GeneratedAt time.Time `json:"generated_at"`

	Total        int `json:"total_tokens"`
	Active       int `json:"active_tokens"`
	Inactive     int `json:"inactive_tokens"`
	Expired      int `json:"expired_tokens"`
	NeverExpires int `json:"never_expire_tokens"`

	ExpiresIn24h  int `json:"expires_in_24h"`
	ExpiresIn7d   int `json:"expires_in_7d"`
	ExpiresIn30d  int `json:"expires_in_30d"`
	UsedLast24h   int `json:"used_last_24h"`
	UsedLastWeek  int `json:"used_last_week"`
	UsedLastMonth int `json:"used_last_month"`
	NeverUsed     int `json:"never_used"`

	// Scopes is ordered by descending count, then name.
	Scopes []ScopeCount `json:"scopes"`
}

const statsScanPage = 500

// Statistics counts the tokens matching f.
func (s *Service) Statistics(ctx context.Context, f Filter) (*Stats, error) {
	now := s.now()
	base := store.TokenFilter{ApplicationID: f.ApplicationID, UserID: f.UserID}
	day := 24 * time.Hour

	st := &Stats{GeneratedAt: now}
	counts := []struct {
		dst *int
		f   store.TokenFilter
	}{
		{&st.Total, base},
		{&st.Active, with(base, func(tf *store.TokenFilter) { tf.Active = store.Bool(true) })},
		{&st.Expired, with(base, func(tf *store.TokenFilter) { tf.ExpiresBefore = now })},
		{&st.NeverExpires, with(base, func(tf *store.TokenFilter) { tf.NeverExpires = true })},
		{&st.ExpiresIn24h, expiringWithin(base, now, day)},
		{&st.ExpiresIn7d, expiringWithin(base, now, 7*day)},
		{&st.ExpiresIn30d, expiringWithin(base, now, 30*day)},
		{&st.UsedLast24h, with(base, func(tf *store.TokenFilter) { tf.UsedSince = now.Add(-day) })},
		{&st.UsedLastWeek, with(base, func(tf *store.TokenFilter) { tf.UsedSince = now.Add(-7 * day) })},
		{&st.UsedLastMonth, with(base, func(tf *store.TokenFilter) { tf.UsedSince = now.Add(-30 * day) })},
		{&st.NeverUsed, with(base, func(tf *store.TokenFilter) { tf.NeverUsed = true })},
	}
	for _, c := range counts {
		n, err := s.store.CountTokens(ctx, c.f)
		if err != nil {
			return nil, fmt.Errorf("counting tokens: %w", err)
		}
		*c.dst = n
	}
	st.Inactive = st.Total - st.Active

	scopes, err := s.scopeCounts(ctx, base)
	if err != nil {
		return nil, err
	}
	st.Scopes = scopes
	return st, nil
}

func with(f store.TokenFilter, fn func(*store.TokenFilter)) store.TokenFilter {
	fn(&f)
	return f
}

func expiringWithin(f store.TokenFilter, now time.Time, d time.Duration) store.TokenFilter {
	f.ExpiresFrom = now
	f.ExpiresBefore = now.Add(d)
	return f
}

func (s *Service) scopeCounts(ctx context.Context, f store.TokenFilter) ([]ScopeCount, error) {
	tally := map[string]int{}
	for page := 1; ; page++ {
		batch, total, err := s.store.ListTokens(ctx, f, store.Page{Number: page, Size: statsScanPage})
		if err != nil {
			return nil, fmt.Errorf("scanning tokens: %w", err)
		}
		for _, t := range batch {
			for _, a := range t.Abilities {
				tally[a]++
			}
		}
		if page*statsScanPage >= total || len(batch) == 0 {
			break
		}
	}

	out := make([]ScopeCount, 0, len(tally))
	for scope, n := range tally {
		out = append(out, ScopeCount{Scope: scope, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Scope < out[j].Scope
	})
	return out, nil
}
