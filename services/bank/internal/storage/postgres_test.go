package storage

import (
	"context"
	"os"
	"testing"

	"github.com/lean98av/kipubank/services/testutil"
)

func TestRecordAndListAudit(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION") == "" {
		t.Skip("set RUN_DB_INTEGRATION=1 to run")
	}

	pool, err := testutil.SetupTestDB()
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	defer testutil.CleanupAuditData(ctx, pool)

	store := New(pool, nil)
	principal := testutil.DemoPrincipal.Hex()

	store.RecordAudit(ctx, AuditRecord{
		Operation: "deposit",
		Principal: principal,
		Asset:     "0x0000000000000000000000000000000000000000",
		Amount:    "100",
		Status:    "success",
	})
	store.RecordAudit(ctx, AuditRecord{
		Operation: "withdraw",
		Principal: principal,
		Asset:     "0x0000000000000000000000000000000000000000",
		Amount:    "250",
		Status:    "rejected",
		Reason:    "insufficient funds",
	})

	records, err := store.ListRecent(ctx, principal, 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Operation != "withdraw" {
		t.Fatalf("expected newest first, got %q", records[0].Operation)
	}
	if records[0].Reason != "insufficient funds" {
		t.Fatalf("unexpected reason %q", records[0].Reason)
	}
}

func TestNilStoreIsNoOp(t *testing.T) {
	var store *Store
	store.RecordAudit(context.Background(), AuditRecord{Operation: "deposit"})
}
