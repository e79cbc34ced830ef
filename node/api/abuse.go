package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"dispenser.dev/node/dispenser"
)

const (
	BanThreshold       = 100
	BanDurationDefault = time.Hour

	// ScoreDecaysPerMinute is how fast a client's misbehavior score drains.
	ScoreDecaysPerMinute = 1

	maxTrackedClients = 4096
)

// banScore is a decaying misbehavior score for one client.
type banScore struct {
	score       int
	lastUpdated time.Time
	bannedUntil time.Time
}

func (b *banScore) Score(now time.Time) int {
	b.decayTo(now)
	return b.score
}

func (b *banScore) Add(now time.Time, delta int) int {
	b.decayTo(now)
	b.score += delta
	if b.score < 0 {
		b.score = 0
	}
	return b.score
}

func (b *banScore) decayTo(now time.Time) {
	if b.lastUpdated.IsZero() {
		b.lastUpdated = now
		return
	}
	if now.Before(b.lastUpdated) {
		b.lastUpdated = now
		return
	}
	minutes := int(now.Sub(b.lastUpdated) / time.Minute)
	if minutes <= 0 {
		return
	}
	b.score -= minutes * ScoreDecaysPerMinute
	if b.score < 0 {
		b.score = 0
	}
	b.lastUpdated = b.lastUpdated.Add(time.Duration(minutes) * time.Minute)
}

// AbuseTracker bans clients whose rejected claims add up past BanThreshold.
type AbuseTracker struct {
	mu      sync.Mutex
	clients map[string]*banScore
	banFor  time.Duration
	now     func() time.Time
}

func NewAbuseTracker(banFor time.Duration) *AbuseTracker {
	if banFor <= 0 {
		banFor = BanDurationDefault
	}
	return &AbuseTracker{
		clients: make(map[string]*banScore),
		banFor:  banFor,
		now:     time.Now,
	}
}

// Penalize adds the penalty for a rejection code and reports whether the
// client is now banned.
func (a *AbuseTracker) Penalize(ip, code string) bool {
	delta := penalty(code)
	if delta == 0 {
		return a.Banned(ip)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	if len(a.clients) >= maxTrackedClients {
		a.prune(now)
	}
	s, ok := a.clients[ip]
	if !ok {
		s = &banScore{}
		a.clients[ip] = s
	}
	if s.Add(now, delta) >= BanThreshold && !now.Before(s.bannedUntil) {
		s.bannedUntil = now.Add(a.banFor)
		s.score = 0
		return true
	}
	return now.Before(s.bannedUntil)
}

func (a *AbuseTracker) Banned(ip string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.clients[ip]
	return ok && a.now().Before(s.bannedUntil)
}

func (a *AbuseTracker) prune(now time.Time) {
	for ip, s := range a.clients {
		if s.Score(now) == 0 && !now.Before(s.bannedUntil) {
			delete(a.clients, ip)
		}
	}
}

func (a *AbuseTracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !unlimitedPaths[r.URL.Path] && a.Banned(clientIP(r)) {
			writeError(w, http.StatusForbidden, "BANNED", "client banned after repeated invalid claims")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// penalty weighs a rejection. Forged signatures and proofs cost the most;
// double claims and server-side failures cost little or nothing.
func penalty(code string) int {
	switch {
	case code == "UNAUTHORIZED", code == "PRECOMPILE", code == "UNVERIFIED":
		return 20
	case code == string(dispenser.CLAIM_ERR_FORBIDDEN):
		return 25
	case strings.HasPrefix(code, "CLAIM_ERR_SIG_"), code == string(dispenser.CLAIM_ERR_RECOVERY):
		return 20
	case code == string(dispenser.CLAIM_ERR_INVALID_INCLUSION_PROOF),
		code == string(dispenser.CLAIM_ERR_UNAUTHORIZED_CHAIN_ID),
		code == string(dispenser.CLAIM_ERR_PARSE),
		code == string(dispenser.CLAIM_ERR_FRAMING),
		code == "BAD_REQUEST":
		return 10
	case code == string(dispenser.CLAIM_ERR_ALREADY_CLAIMED):
		return 2
	default:
		return 0
	}
}
