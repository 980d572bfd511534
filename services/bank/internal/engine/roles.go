package engine

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// RoleRegistry holds the set of principals granted the admin capability.
// There is no revocation; the bootstrap admin is granted at construction.
type RoleRegistry struct {
	mu     sync.RWMutex
	admins map[common.Address]struct{}
}

func NewRoleRegistry(bootstrap common.Address) *RoleRegistry {
	r := &RoleRegistry{admins: make(map[common.Address]struct{})}
	r.admins[bootstrap] = struct{}{}
	return r
}

// Grant adds principal to the admin set. Idempotent. Only an existing admin
// may grant.
func (r *RoleRegistry) Grant(granter, principal common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.admins[granter]; !ok {
		return ErrUnauthorized
	}
	r.admins[principal] = struct{}{}
	return nil
}

func (r *RoleRegistry) Has(principal common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.admins[principal]
	return ok
}

func (r *RoleRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.admins)
}
