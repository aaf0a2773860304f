package auth

import (
	"sync"
	"time"
)

// Revocations remembers logged-out session ids until their tokens expire.
type Revocations struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewRevocations() *Revocations {
	return &Revocations{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke marks jti revoked until exp. Expired entries are pruned on the way.
func (r *Revocations) Revoke(jti string, exp time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for id, until := range r.revoked {
		if !until.After(now) {
			delete(r.revoked, id)
		}
	}
	if exp.After(now) {
		r.revoked[jti] = exp
	}
}

func (r *Revocations) IsRevoked(jti string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	until, ok := r.revoked[jti]
	return ok && until.After(r.now())
}
