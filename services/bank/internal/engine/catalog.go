package engine

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TokenDescriptor describes an approved fungible token. A missing catalog
// entry is equivalent to Supported == false.
type TokenDescriptor struct {
	Supported  bool
	ValueScale uint8
	OracleRef  common.Address
}

// TokenCatalog maps asset identifiers to descriptors. Mutation is gated on
// the admin role; reads are open.
type TokenCatalog struct {
	mu     sync.RWMutex
	roles  *RoleRegistry
	tokens map[common.Address]TokenDescriptor
}

func NewTokenCatalog(roles *RoleRegistry) *TokenCatalog {
	return &TokenCatalog{
		roles:  roles,
		tokens: make(map[common.Address]TokenDescriptor),
	}
}

// Set upserts the descriptor for asset. The prior descriptor is fully
// replaced, not merged. The oracle reference is not validated here; a bad
// reference only surfaces when the feed is queried.
func (c *TokenCatalog) Set(caller, asset common.Address, desc TokenDescriptor) error {
	if !c.roles.Has(caller) {
		return ErrUnauthorized
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[asset] = desc
	return nil
}

func (c *TokenCatalog) Get(asset common.Address) (TokenDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	desc, ok := c.tokens[asset]
	return desc, ok
}

func (c *TokenCatalog) Supported(asset common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens[asset].Supported
}
