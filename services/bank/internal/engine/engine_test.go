package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	admin = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	token = common.HexToAddress("0x0000000000000000000000000000000000c0ffee")
)

type fakeTransferor struct {
	mu      sync.Mutex
	pullErr error
	pushErr error
	pulls   int
	pushes  int
	onPull  func(ctx context.Context) error
	onPush  func(ctx context.Context) error
}

func (f *fakeTransferor) PullIn(ctx context.Context, _, _ common.Address, _ uint64) error {
	f.mu.Lock()
	f.pulls++
	f.mu.Unlock()
	if f.onPull != nil {
		return f.onPull(ctx)
	}
	return f.pullErr
}

func (f *fakeTransferor) PushOut(ctx context.Context, _, _ common.Address, _ uint64) error {
	f.mu.Lock()
	f.pushes++
	f.mu.Unlock()
	if f.onPush != nil {
		return f.onPush(ctx)
	}
	return f.pushErr
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	values []any
}

func (p *recordingPublisher) PublishJSON(_ context.Context, topic, _ string, value any) (int32, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.values = append(p.values, value)
	return 0, 0, nil
}

func (p *recordingPublisher) Close() error { return nil }

func newTestBank(t *testing.T, cap, maxWithdraw uint64, transferor Transferor) *Bank {
	t.Helper()
	if transferor == nil {
		transferor = &fakeTransferor{}
	}
	bank, err := New(Config{
		Limits:      Limits{BankCap: cap, MaxWithdraw: maxWithdraw},
		Admin:       admin,
		NativeScale: 18,
		Transferor:  transferor,
	})
	if err != nil {
		t.Fatalf("new bank: %v", err)
	}
	return bank
}

func mustCreate(t *testing.T, b *Bank, principal common.Address, deposit uint64) {
	t.Helper()
	if err := b.CreateAccount(context.Background(), principal, "name", "name@example.com", deposit); err != nil {
		t.Fatalf("create account: %v", err)
	}
}

func balance(t *testing.T, b *Bank, principal, asset common.Address) uint64 {
	t.Helper()
	bal, err := b.BalanceOf(principal, asset)
	if err != nil {
		t.Fatalf("balance of: %v", err)
	}
	return bal
}

func TestCreateAccountTwiceFails(t *testing.T) {
	bank := newTestBank(t, 1000, 100, nil)
	mustCreate(t, bank, alice, 0)

	err := bank.CreateAccount(context.Background(), alice, "other", "other@example.com", 10)
	if !errors.Is(err, ErrAccountAlreadyExists) {
		t.Fatalf("expected ErrAccountAlreadyExists, got %v", err)
	}
	if got := bank.TotalNative(); got != 0 {
		t.Fatalf("expected total unchanged, got %d", got)
	}
}

func TestCreateAccountWithDepositOverCapCreatesNothing(t *testing.T) {
	bank := newTestBank(t, 1000, 100, nil)

	err := bank.CreateAccount(context.Background(), alice, "alice", "a@example.com", 1500)
	if !errors.Is(err, ErrExceedBankCap) {
		t.Fatalf("expected ErrExceedBankCap, got %v", err)
	}
	if bank.Accounts().Exists(alice) {
		t.Fatalf("expected no account after rejected initial deposit")
	}
	if bank.DepositCount() != 0 {
		t.Fatalf("expected deposit count 0, got %d", bank.DepositCount())
	}
}

func TestDepositBankCapScenario(t *testing.T) {
	bank := newTestBank(t, 1000, 100, nil)
	mustCreate(t, bank, alice, 0)

	if err := bank.DepositNative(context.Background(), alice, 600); err != nil {
		t.Fatalf("deposit 600: %v", err)
	}
	if got := bank.TotalNative(); got != 600 {
		t.Fatalf("expected total 600, got %d", got)
	}

	err := bank.DepositNative(context.Background(), alice, 500)
	if !errors.Is(err, ErrExceedBankCap) {
		t.Fatalf("expected ErrExceedBankCap, got %v", err)
	}
	if got := bank.TotalNative(); got != 600 {
		t.Fatalf("expected total to stay 600, got %d", got)
	}
	if got := balance(t, bank, alice, NativeAsset); got != 600 {
		t.Fatalf("expected balance 600, got %d", got)
	}
}

func TestDepositZeroFails(t *testing.T) {
	bank := newTestBank(t, 1000, 100, nil)
	mustCreate(t, bank, alice, 0)

	if err := bank.DepositNative(context.Background(), alice, 0); !errors.Is(err, ErrInvalidDeposit) {
		t.Fatalf("expected ErrInvalidDeposit, got %v", err)
	}
	if bank.DepositCount() != 0 {
		t.Fatalf("expected deposit count 0, got %d", bank.DepositCount())
	}
}

func TestDepositWithoutAccountFails(t *testing.T) {
	bank := newTestBank(t, 1000, 100, nil)
	if err := bank.DepositNative(context.Background(), alice, 10); !errors.Is(err, ErrAccountNotExists) {
		t.Fatalf("expected ErrAccountNotExists, got %v", err)
	}
}

func TestWithdrawLimitScenario(t *testing.T) {
	bank := newTestBank(t, 1000, 100, nil)
	mustCreate(t, bank, alice, 500)

	err := bank.WithdrawNative(context.Background(), alice, 150)
	var limitErr *ExceedWithdrawAmountError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected ExceedWithdrawAmountError, got %v", err)
	}
	if limitErr.Limit != 100 || limitErr.Requested != 150 {
		t.Fatalf("expected limit 100 requested 150, got %+v", limitErr)
	}
	if got := balance(t, bank, alice, NativeAsset); got != 500 {
		t.Fatalf("expected balance unchanged, got %d", got)
	}
}

func TestWithdrawInsufficientFundsScenario(t *testing.T) {
	bank := newTestBank(t, 1000, 100, nil)
	mustCreate(t, bank, alice, 50)

	err := bank.WithdrawNative(context.Background(), alice, 60)
	var fundsErr *InsufficientFundsError
	if !errors.As(err, &fundsErr) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if fundsErr.Available != 50 || fundsErr.Requested != 60 {
		t.Fatalf("expected available 50 requested 60, got %+v", fundsErr)
	}
	if got := bank.TotalNative(); got != 50 {
		t.Fatalf("expected total 50, got %d", got)
	}
}

func TestWithdrawZeroSucceeds(t *testing.T) {
	bank := newTestBank(t, 1000, 100, nil)
	mustCreate(t, bank, alice, 50)

	if err := bank.WithdrawNative(context.Background(), alice, 0); err != nil {
		t.Fatalf("expected zero withdraw to succeed, got %v", err)
	}
	if got := balance(t, bank, alice, NativeAsset); got != 50 {
		t.Fatalf("expected balance unchanged, got %d", got)
	}
}

func TestWithdrawTransferFailureRollsBack(t *testing.T) {
	transferor := &fakeTransferor{pushErr: errors.New("rpc refused")}
	bank := newTestBank(t, 1000, 100, transferor)
	mustCreate(t, bank, alice, 80)

	err := bank.WithdrawNative(context.Background(), alice, 40)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if got := balance(t, bank, alice, NativeAsset); got != 80 {
		t.Fatalf("expected balance restored to 80, got %d", got)
	}
	if got := bank.TotalNative(); got != 80 {
		t.Fatalf("expected total restored to 80, got %d", got)
	}
	if got := bank.WithdrawCount(); got != 0 {
		t.Fatalf("expected withdraw count 0, got %d", got)
	}
	acct, _ := bank.Accounts().Get(alice)
	if acct.NativeBalance != 80 {
		t.Fatalf("expected denormalized balance 80, got %d", acct.NativeBalance)
	}
}

func TestWithdrawReentrancyBlocked(t *testing.T) {
	transferor := &fakeTransferor{}
	bank := newTestBank(t, 1000, 100, transferor)
	mustCreate(t, bank, alice, 100)

	var reentrantErr error
	transferor.onPush = func(ctx context.Context) error {
		reentrantErr = bank.WithdrawNative(ctx, alice, 10)
		return nil
	}

	if err := bank.WithdrawNative(context.Background(), alice, 30); err != nil {
		t.Fatalf("outer withdraw: %v", err)
	}
	if !errors.Is(reentrantErr, ErrReentrant) {
		t.Fatalf("expected ErrReentrant from callback, got %v", reentrantErr)
	}
	if got := balance(t, bank, alice, NativeAsset); got != 70 {
		t.Fatalf("expected only the outer withdraw applied, balance 70, got %d", got)
	}
	if got := bank.WithdrawCount(); got != 1 {
		t.Fatalf("expected withdraw count 1, got %d", got)
	}
}

func TestReentrantFailureThenTransferErrorRollsBackOuter(t *testing.T) {
	transferor := &fakeTransferor{}
	bank := newTestBank(t, 1000, 100, transferor)
	mustCreate(t, bank, alice, 100)

	transferor.onPush = func(ctx context.Context) error {
		if err := bank.WithdrawNative(ctx, alice, 10); !errors.Is(err, ErrReentrant) {
			t.Fatalf("expected ErrReentrant, got %v", err)
		}
		return errors.New("transfer aborted")
	}

	err := bank.WithdrawNative(context.Background(), alice, 30)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if got := balance(t, bank, alice, NativeAsset); got != 100 {
		t.Fatalf("expected full rollback to 100, got %d", got)
	}
}

func TestDepositDuringFailedWithdrawSurvivesRollback(t *testing.T) {
	transferor := &fakeTransferor{}
	bank := newTestBank(t, 1000, 100, transferor)
	mustCreate(t, bank, alice, 100)

	// Deposits bypass the guard, so one can commit while the failing push
	// is in flight. The rollback must not wipe it.
	transferor.onPush = func(ctx context.Context) error {
		if err := bank.DepositNative(ctx, alice, 50); err != nil {
			t.Fatalf("deposit during push: %v", err)
		}
		return errors.New("transfer aborted")
	}

	err := bank.WithdrawNative(context.Background(), alice, 30)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if got := balance(t, bank, alice, NativeAsset); got != 150 {
		t.Fatalf("expected balance 150 after rollback, got %d", got)
	}
	if got := bank.TotalNative(); got != 150 {
		t.Fatalf("expected total 150, got %d", got)
	}
	if got := bank.DepositCount(); got != 2 {
		t.Fatalf("expected deposit count 2, got %d", got)
	}
	if got := bank.WithdrawCount(); got != 0 {
		t.Fatalf("expected withdraw count 0, got %d", got)
	}
	acct, _ := bank.Accounts().Get(alice)
	if acct.NativeBalance != 150 {
		t.Fatalf("expected denormalized balance 150, got %d", acct.NativeBalance)
	}
}

func TestTokenDepositDuringFailedPullSurvivesRollback(t *testing.T) {
	transferor := &fakeTransferor{}
	bank := newTestBank(t, 1000, 100, transferor)
	mustCreate(t, bank, alice, 0)
	mustCreate(t, bank, bob, 0)
	if err := bank.SetToken(context.Background(), admin, token, TokenDescriptor{Supported: true}); err != nil {
		t.Fatalf("set token: %v", err)
	}

	first := true
	transferor.onPull = func(ctx context.Context) error {
		if !first {
			return nil
		}
		first = false
		if err := bank.DepositToken(ctx, bob, token, 5); err != nil {
			t.Fatalf("deposit during pull: %v", err)
		}
		return errors.New("allowance too low")
	}

	err := bank.DepositToken(context.Background(), alice, token, 9)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if got := balance(t, bank, alice, token); got != 0 {
		t.Fatalf("expected alice rolled back to 0, got %d", got)
	}
	if got := balance(t, bank, bob, token); got != 5 {
		t.Fatalf("expected bob's deposit preserved at 5, got %d", got)
	}
	if got := bank.DepositCount(); got != 1 {
		t.Fatalf("expected deposit count 1, got %d", got)
	}
}

func TestTokenDepositRequiresSupport(t *testing.T) {
	bank := newTestBank(t, 1000, 100, nil)
	mustCreate(t, bank, alice, 0)

	err := bank.DepositToken(context.Background(), alice, token, 5)
	if !errors.Is(err, ErrTokenNotSupported) {
		t.Fatalf("expected ErrTokenNotSupported, got %v", err)
	}
}

func TestTokenLifecycle(t *testing.T) {
	transferor := &fakeTransferor{}
	bank := newTestBank(t, 1000, 100, transferor)
	mustCreate(t, bank, alice, 0)

	desc := TokenDescriptor{Supported: true, ValueScale: 6, OracleRef: common.HexToAddress("0x1")}
	if err := bank.SetToken(context.Background(), admin, token, desc); err != nil {
		t.Fatalf("set token: %v", err)
	}

	if err := bank.DepositToken(context.Background(), alice, token, 250); err != nil {
		t.Fatalf("deposit token: %v", err)
	}
	if transferor.pulls != 1 {
		t.Fatalf("expected 1 pull-in, got %d", transferor.pulls)
	}
	if got := balance(t, bank, alice, token); got != 250 {
		t.Fatalf("expected token balance 250, got %d", got)
	}
	if got := bank.TotalNative(); got != 0 {
		t.Fatalf("token deposit must not change native total, got %d", got)
	}

	if err := bank.WithdrawToken(context.Background(), alice, token, 100); err != nil {
		t.Fatalf("withdraw token: %v", err)
	}
	if got := balance(t, bank, alice, token); got != 150 {
		t.Fatalf("expected token balance 150, got %d", got)
	}

	// De-listing does not zero existing balances; it only blocks new flows.
	desc.Supported = false
	if err := bank.SetToken(context.Background(), admin, token, desc); err != nil {
		t.Fatalf("delist token: %v", err)
	}
	if got := balance(t, bank, alice, token); got != 150 {
		t.Fatalf("expected balance kept after de-listing, got %d", got)
	}
	if err := bank.DepositToken(context.Background(), alice, token, 1); !errors.Is(err, ErrTokenNotSupported) {
		t.Fatalf("expected ErrTokenNotSupported after de-listing, got %v", err)
	}
}

func TestTokenDepositPullFailureRollsBack(t *testing.T) {
	transferor := &fakeTransferor{pullErr: errors.New("allowance too low")}
	bank := newTestBank(t, 1000, 100, transferor)
	mustCreate(t, bank, alice, 0)
	if err := bank.SetToken(context.Background(), admin, token, TokenDescriptor{Supported: true}); err != nil {
		t.Fatalf("set token: %v", err)
	}

	err := bank.DepositToken(context.Background(), alice, token, 9)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if got := balance(t, bank, alice, token); got != 0 {
		t.Fatalf("expected balance rolled back to 0, got %d", got)
	}
	if got := bank.DepositCount(); got != 0 {
		t.Fatalf("expected deposit count 0, got %d", got)
	}
}

func TestTokenDepositOverflowRejected(t *testing.T) {
	bank := newTestBank(t, 1000, 100, nil)
	mustCreate(t, bank, alice, 0)
	if err := bank.SetToken(context.Background(), admin, token, TokenDescriptor{Supported: true}); err != nil {
		t.Fatalf("set token: %v", err)
	}

	if err := bank.DepositToken(context.Background(), alice, token, math.MaxUint64); err != nil {
		t.Fatalf("deposit max: %v", err)
	}

	err := bank.DepositToken(context.Background(), alice, token, 1)
	if !errors.Is(err, ErrInvalidDeposit) {
		t.Fatalf("expected ErrInvalidDeposit on wrap, got %v", err)
	}
	if got := balance(t, bank, alice, token); got != math.MaxUint64 {
		t.Fatalf("expected balance unchanged at MaxUint64, got %d", got)
	}
	if got := bank.DepositCount(); got != 1 {
		t.Fatalf("expected deposit count 1, got %d", got)
	}
}

func TestCountersTrackSuccessfulOperations(t *testing.T) {
	bank := newTestBank(t, 1000, 100, nil)
	mustCreate(t, bank, alice, 100)
	mustCreate(t, bank, bob, 0)

	if err := bank.DepositNative(context.Background(), bob, 50); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := bank.WithdrawNative(context.Background(), alice, 30); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if got := bank.DepositCount(); got != 2 {
		t.Fatalf("expected deposit count 2, got %d", got)
	}
	if got := bank.WithdrawCount(); got != 1 {
		t.Fatalf("expected withdraw count 1, got %d", got)
	}
}

func TestNativeTotalMatchesSumOfBalances(t *testing.T) {
	bank := newTestBank(t, 10000, 1000, nil)
	mustCreate(t, bank, alice, 300)
	mustCreate(t, bank, bob, 0)

	ops := []func() error{
		func() error { return bank.DepositNative(context.Background(), bob, 200) },
		func() error { return bank.WithdrawNative(context.Background(), alice, 100) },
		func() error { return bank.DepositNative(context.Background(), alice, 50) },
		func() error { return bank.WithdrawNative(context.Background(), bob, 200) },
	}
	for i, op := range ops {
		if err := op(); err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
		sum := balance(t, bank, alice, NativeAsset) + balance(t, bank, bob, NativeAsset)
		if total := bank.TotalNative(); total != sum {
			t.Fatalf("after op %d: total %d != sum %d", i, total, sum)
		}
	}
}

func TestBalanceOfUnknownAccount(t *testing.T) {
	bank := newTestBank(t, 1000, 100, nil)
	if _, err := bank.BalanceOf(alice, NativeAsset); !errors.Is(err, ErrAccountNotExists) {
		t.Fatalf("expected ErrAccountNotExists, got %v", err)
	}
}

func TestEventsPublished(t *testing.T) {
	publisher := &recordingPublisher{}
	transferor := &fakeTransferor{}
	bank, err := New(Config{
		Limits:      Limits{BankCap: 1000, MaxWithdraw: 100},
		Admin:       admin,
		NativeScale: 18,
		Transferor:  transferor,
		Publisher:   publisher,
	})
	if err != nil {
		t.Fatalf("new bank: %v", err)
	}

	mustCreate(t, bank, alice, 10)
	if err := bank.WithdrawNative(context.Background(), alice, 5); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := bank.SetToken(context.Background(), admin, token, TokenDescriptor{Supported: true, ValueScale: 6}); err != nil {
		t.Fatalf("set token: %v", err)
	}

	want := []string{"bank.deposits", "bank.withdrawals", "bank.catalog"}
	if len(publisher.topics) != len(want) {
		t.Fatalf("expected %d events, got %d (%v)", len(want), len(publisher.topics), publisher.topics)
	}
	for i, topic := range want {
		if publisher.topics[i] != topic {
			t.Fatalf("event %d: expected topic %s, got %s", i, topic, publisher.topics[i])
		}
	}

	moved, ok := publisher.values[0].(BalanceMovedEvent)
	if !ok {
		t.Fatalf("expected BalanceMovedEvent, got %T", publisher.values[0])
	}
	if moved.Amount != "10" {
		t.Fatalf("expected amount 10, got %s", moved.Amount)
	}
	if moved.EventType != EventTypeDepositMade {
		t.Fatalf("expected event type %s, got %s", EventTypeDepositMade, moved.EventType)
	}
}

func TestDisplayAmountScales(t *testing.T) {
	bank := newTestBank(t, 1000, 100, nil)
	if err := bank.SetToken(context.Background(), admin, token, TokenDescriptor{Supported: true, ValueScale: 6}); err != nil {
		t.Fatalf("set token: %v", err)
	}

	if got := bank.DisplayAmount(NativeAsset, 1500000000000000000); got != "1.5" {
		t.Fatalf("expected 1.5, got %s", got)
	}
	if got := bank.DisplayAmount(token, 2500000); got != "2.5" {
		t.Fatalf("expected 2.5, got %s", got)
	}
}
