package engine

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Account is a registered customer record. NativeBalance is denormalized and
// kept equal to the ledger's native balance for the principal by the Bank.
type Account struct {
	NativeBalance uint64
	Name          string
	Email         string
}

// AccountRegistry maps principals to account records. Accounts are never
// deleted.
type AccountRegistry struct {
	mu       sync.RWMutex
	accounts map[common.Address]*Account
}

func NewAccountRegistry() *AccountRegistry {
	return &AccountRegistry{accounts: make(map[common.Address]*Account)}
}

func (r *AccountRegistry) Create(principal common.Address, name, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[principal]; ok {
		return ErrAccountAlreadyExists
	}
	r.accounts[principal] = &Account{Name: name, Email: email}
	return nil
}

func (r *AccountRegistry) Exists(principal common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.accounts[principal]
	return ok
}

// Get returns a copy of the account record so callers cannot mutate
// registry state.
func (r *AccountRegistry) Get(principal common.Address) (Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[principal]
	if !ok {
		return Account{}, false
	}
	return *a, true
}

func (r *AccountRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

// setNativeBalance syncs the denormalized native balance. Only the Bank
// calls this, inside its own critical section.
func (r *AccountRegistry) setNativeBalance(principal common.Address, balance uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accounts[principal]; ok {
		a.NativeBalance = balance
	}
}
