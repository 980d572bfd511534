package engine

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestRoleRegistryBootstrapAdmin(t *testing.T) {
	roles := NewRoleRegistry(admin)
	if !roles.Has(admin) {
		t.Fatalf("expected bootstrap admin")
	}
	if roles.Has(alice) {
		t.Fatalf("expected alice without role")
	}
}

func TestRoleRegistryGrant(t *testing.T) {
	roles := NewRoleRegistry(admin)

	if err := roles.Grant(admin, alice); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !roles.Has(alice) {
		t.Fatalf("expected alice granted")
	}

	// Idempotent.
	if err := roles.Grant(admin, alice); err != nil {
		t.Fatalf("second grant: %v", err)
	}
	if roles.Count() != 2 {
		t.Fatalf("expected 2 admins, got %d", roles.Count())
	}
}

func TestRoleRegistryGrantUnauthorized(t *testing.T) {
	roles := NewRoleRegistry(admin)
	if err := roles.Grant(bob, alice); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if roles.Has(alice) {
		t.Fatalf("expected no grant from unauthorized granter")
	}
}

func TestCatalogSetRequiresAdmin(t *testing.T) {
	catalog := NewTokenCatalog(NewRoleRegistry(admin))

	err := catalog.Set(bob, token, TokenDescriptor{Supported: true})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if catalog.Supported(token) {
		t.Fatalf("expected token not supported")
	}
}

func TestCatalogSetReplacesDescriptor(t *testing.T) {
	catalog := NewTokenCatalog(NewRoleRegistry(admin))
	ref := common.HexToAddress("0x00000000000000000000000000000000000000fe")

	if err := catalog.Set(admin, token, TokenDescriptor{Supported: true, ValueScale: 6, OracleRef: ref}); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Full replacement, not a merge.
	if err := catalog.Set(admin, token, TokenDescriptor{Supported: true, ValueScale: 8}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	desc, ok := catalog.Get(token)
	if !ok {
		t.Fatalf("expected descriptor")
	}
	if desc.ValueScale != 8 {
		t.Fatalf("expected value scale 8, got %d", desc.ValueScale)
	}
	if desc.OracleRef != (common.Address{}) {
		t.Fatalf("expected oracle ref cleared, got %s", desc.OracleRef.Hex())
	}
}

func TestCatalogAbsentMeansUnsupported(t *testing.T) {
	catalog := NewTokenCatalog(NewRoleRegistry(admin))
	if catalog.Supported(token) {
		t.Fatalf("expected absent entry to be unsupported")
	}
	if _, ok := catalog.Get(token); ok {
		t.Fatalf("expected no descriptor")
	}
}

func TestAccountRegistryCreateAndGet(t *testing.T) {
	accounts := NewAccountRegistry()

	if err := accounts.Create(alice, "Alice", "alice@example.com"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := accounts.Create(alice, "Alice", "alice@example.com"); !errors.Is(err, ErrAccountAlreadyExists) {
		t.Fatalf("expected ErrAccountAlreadyExists, got %v", err)
	}

	acct, ok := accounts.Get(alice)
	if !ok {
		t.Fatalf("expected account")
	}
	if acct.Name != "Alice" || acct.Email != "alice@example.com" {
		t.Fatalf("unexpected account: %+v", acct)
	}
	if acct.NativeBalance != 0 {
		t.Fatalf("expected zero balance, got %d", acct.NativeBalance)
	}

	// Get returns a copy; mutating it must not touch registry state.
	acct.NativeBalance = 99
	fresh, _ := accounts.Get(alice)
	if fresh.NativeBalance != 0 {
		t.Fatalf("expected registry unchanged, got %d", fresh.NativeBalance)
	}
}

func TestGuardSingleAcquisition(t *testing.T) {
	var g Guard

	release, err := g.Acquire()
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !g.Held() {
		t.Fatalf("expected guard held")
	}

	if _, err := g.Acquire(); !errors.Is(err, ErrReentrant) {
		t.Fatalf("expected ErrReentrant, got %v", err)
	}

	release()
	if g.Held() {
		t.Fatalf("expected guard released")
	}
	if _, err := g.Acquire(); err != nil {
		t.Fatalf("expected reacquire after release, got %v", err)
	}
}
