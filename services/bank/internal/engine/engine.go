package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lean98av/kipubank/libs/kafka"
	"github.com/shopspring/decimal"
	"log/slog"
)

// NativeAsset is the sentinel asset identifier for the chain's base
// currency.
var NativeAsset = common.Address{}

// Transferor moves actual funds between the caller and custody. Transfer-out
// may invoke arbitrary recipient code before returning, which is why the
// withdrawal paths run under the reentrancy guard.
type Transferor interface {
	PullIn(ctx context.Context, asset, from common.Address, amount uint64) error
	PushOut(ctx context.Context, asset, to common.Address, amount uint64) error
}

type Metrics interface {
	ObserveOperation(op, status string, duration time.Duration)
	IncRejected(reason string)
	SetTotalNative(total float64)
}

type Topics struct {
	Deposits    string
	Withdrawals string
	Catalog     string
}

// Limits are the immutable ceilings configured at construction.
type Limits struct {
	// BankCap bounds the total custodied native balance.
	BankCap uint64
	// MaxWithdraw bounds any single withdrawal, for all assets.
	MaxWithdraw uint64
}

type Config struct {
	Limits      Limits
	Admin       common.Address
	NativeScale uint8
	Transferor  Transferor
	Publisher   kafka.Publisher
	Topics      Topics
	Logger      *slog.Logger
	Metrics     Metrics
}

const (
	opCreateAccount = "create_account"
	opDeposit       = "deposit"
	opWithdraw      = "withdraw"
)

type balanceKey struct {
	principal common.Address
	asset     common.Address
}

// Bank is the custodial ledger engine. It owns all balance state; every
// operation is applied fully or not at all, and a failed external transfer
// rolls the operation back.
type Bank struct {
	mu    sync.Mutex
	guard Guard

	roles    *RoleRegistry
	catalog  *TokenCatalog
	accounts *AccountRegistry

	balances    map[balanceKey]uint64
	totalNative uint64
	deposits    uint64
	withdrawals uint64

	limits      Limits
	nativeScale uint8

	transferor Transferor
	publisher  kafka.Publisher
	topics     Topics
	logger     *slog.Logger
	metrics    Metrics
}

func New(cfg Config) (*Bank, error) {
	if cfg.Limits.BankCap == 0 {
		return nil, fmt.Errorf("bank cap required")
	}
	if cfg.Limits.MaxWithdraw == 0 {
		return nil, fmt.Errorf("max withdraw amount required")
	}
	if cfg.Transferor == nil {
		return nil, fmt.Errorf("transferor required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Topics.Deposits == "" {
		cfg.Topics.Deposits = "bank.deposits"
	}
	if cfg.Topics.Withdrawals == "" {
		cfg.Topics.Withdrawals = "bank.withdrawals"
	}
	if cfg.Topics.Catalog == "" {
		cfg.Topics.Catalog = "bank.catalog"
	}

	roles := NewRoleRegistry(cfg.Admin)
	return &Bank{
		roles:       roles,
		catalog:     NewTokenCatalog(roles),
		accounts:    NewAccountRegistry(),
		balances:    make(map[balanceKey]uint64),
		limits:      cfg.Limits,
		nativeScale: cfg.NativeScale,
		transferor:  cfg.Transferor,
		publisher:   cfg.Publisher,
		topics:      cfg.Topics,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}, nil
}

func (b *Bank) Roles() *RoleRegistry       { return b.roles }
func (b *Bank) Catalog() *TokenCatalog     { return b.catalog }
func (b *Bank) Accounts() *AccountRegistry { return b.accounts }

// GrantRole adds principal to the admin set; granter must already hold it.
func (b *Bank) GrantRole(granter, principal common.Address) error {
	if err := b.roles.Grant(granter, principal); err != nil {
		b.reject(err)
		return err
	}
	return nil
}

// SetToken upserts the catalog descriptor for asset and emits a catalog
// change notification.
func (b *Bank) SetToken(ctx context.Context, caller, asset common.Address, desc TokenDescriptor) error {
	if err := b.catalog.Set(caller, asset, desc); err != nil {
		b.reject(err)
		return err
	}

	b.publishCatalog(ctx, asset, desc)
	return nil
}

// CreateAccount registers principal and, when initialDeposit is positive,
// credits the native balance in the same atomic transition. The bank cap is
// checked before the account is created so a rejected deposit leaves no
// account behind.
func (b *Bank) CreateAccount(ctx context.Context, principal common.Address, name, email string, initialDeposit uint64) error {
	start := time.Now()

	b.mu.Lock()
	if b.accounts.Exists(principal) {
		b.mu.Unlock()
		b.reject(ErrAccountAlreadyExists)
		return ErrAccountAlreadyExists
	}
	if initialDeposit > 0 && initialDeposit > b.limits.BankCap-b.totalNative {
		b.mu.Unlock()
		b.reject(ErrExceedBankCap)
		return ErrExceedBankCap
	}

	if err := b.accounts.Create(principal, name, email); err != nil {
		b.mu.Unlock()
		b.reject(err)
		return err
	}
	if initialDeposit > 0 {
		b.creditNative(principal, initialDeposit)
	}
	b.mu.Unlock()

	if initialDeposit > 0 {
		b.publishMovement(ctx, b.topics.Deposits, EventTypeDepositMade, principal, NativeAsset, initialDeposit)
	}
	b.observe(opCreateAccount, start)
	return nil
}

// DepositNative credits the caller's native balance. The native funds are
// assumed delivered alongside the call by the payment envelope, so there is
// no transfer-in collaborator on this path.
func (b *Bank) DepositNative(ctx context.Context, principal common.Address, amount uint64) error {
	start := time.Now()

	b.mu.Lock()
	if err := b.checkDeposit(principal, amount); err != nil {
		b.mu.Unlock()
		b.reject(err)
		return err
	}
	if amount > b.limits.BankCap-b.totalNative {
		b.mu.Unlock()
		b.reject(ErrExceedBankCap)
		return ErrExceedBankCap
	}
	b.creditNative(principal, amount)
	b.mu.Unlock()

	b.publishMovement(ctx, b.topics.Deposits, EventTypeDepositMade, principal, NativeAsset, amount)
	b.observe(opDeposit, start)
	return nil
}

// DepositToken credits the caller's balance of a supported token and pulls
// the funds into custody. A failed pull rolls the credit back; the ledger is
// never left credited for funds that did not arrive.
func (b *Bank) DepositToken(ctx context.Context, principal, asset common.Address, amount uint64) error {
	start := time.Now()
	if asset == NativeAsset {
		return b.DepositNative(ctx, principal, amount)
	}

	key := balanceKey{principal: principal, asset: asset}

	b.mu.Lock()
	if !b.accounts.Exists(principal) {
		b.mu.Unlock()
		b.reject(ErrAccountNotExists)
		return ErrAccountNotExists
	}
	if !b.catalog.Supported(asset) {
		b.mu.Unlock()
		b.reject(ErrTokenNotSupported)
		return ErrTokenNotSupported
	}
	if amount == 0 {
		b.mu.Unlock()
		b.reject(ErrInvalidDeposit)
		return ErrInvalidDeposit
	}
	prev := b.balances[key]
	if amount > math.MaxUint64-prev {
		b.mu.Unlock()
		b.reject(ErrInvalidDeposit)
		return ErrInvalidDeposit
	}
	b.balances[key] = prev + amount
	b.deposits++
	b.mu.Unlock()

	// Compensate by delta, never by snapshot: other operations may have
	// committed while the pull ran outside the mutex.
	if err := b.transferor.PullIn(ctx, asset, principal, amount); err != nil {
		b.mu.Lock()
		b.balances[key] -= amount
		b.deposits--
		b.mu.Unlock()
		b.reject(ErrTransferFailed)
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	b.publishMovement(ctx, b.topics.Deposits, EventTypeDepositMade, principal, asset, amount)
	b.observe(opDeposit, start)
	return nil
}

// WithdrawNative debits the caller's native balance and pushes the funds out
// of custody, under the reentrancy guard.
func (b *Bank) WithdrawNative(ctx context.Context, principal common.Address, amount uint64) error {
	return b.withdraw(ctx, principal, NativeAsset, amount)
}

// WithdrawToken is WithdrawNative for a cataloged token.
func (b *Bank) WithdrawToken(ctx context.Context, principal, asset common.Address, amount uint64) error {
	return b.withdraw(ctx, principal, asset, amount)
}

// withdraw runs the guarded debit-then-push sequence. The guard is a single
// bank-wide slot: while any withdrawal's transfer is in flight, every other
// withdrawal, regardless of principal, fails fast with ErrReentrant rather
// than queueing.
func (b *Bank) withdraw(ctx context.Context, principal, asset common.Address, amount uint64) error {
	start := time.Now()

	release, err := b.guard.Acquire()
	if err != nil {
		b.reject(err)
		return err
	}
	defer release()

	key := balanceKey{principal: principal, asset: asset}

	b.mu.Lock()
	if !b.accounts.Exists(principal) {
		b.mu.Unlock()
		b.reject(ErrAccountNotExists)
		return ErrAccountNotExists
	}
	if asset != NativeAsset && !b.catalog.Supported(asset) {
		b.mu.Unlock()
		b.reject(ErrTokenNotSupported)
		return ErrTokenNotSupported
	}
	if amount > b.limits.MaxWithdraw {
		b.mu.Unlock()
		err := &ExceedWithdrawAmountError{Limit: b.limits.MaxWithdraw, Requested: amount}
		b.reject(err)
		return err
	}
	prev := b.balances[key]
	if prev < amount {
		b.mu.Unlock()
		err := &InsufficientFundsError{Available: prev, Requested: amount}
		b.reject(err)
		return err
	}

	b.balances[key] = prev - amount
	if asset == NativeAsset {
		b.totalNative -= amount
		b.accounts.setNativeBalance(principal, prev-amount)
		b.updateCustodyGauge()
	}
	b.withdrawals++
	b.mu.Unlock()

	// Interaction last: state is already debited, and the guard is still
	// held so a reentrant callback cannot observe or mutate mid-withdrawal
	// state through a guarded path. Deposits are not guarded and may commit
	// while the push runs, so the rollback compensates by delta rather than
	// restoring the pre-push snapshot.
	if terr := b.transferor.PushOut(ctx, asset, principal, amount); terr != nil {
		b.mu.Lock()
		b.balances[key] += amount
		if asset == NativeAsset {
			b.totalNative += amount
			b.accounts.setNativeBalance(principal, b.balances[key])
			b.updateCustodyGauge()
		}
		b.withdrawals--
		b.mu.Unlock()
		b.reject(ErrTransferFailed)
		return fmt.Errorf("%w: %v", ErrTransferFailed, terr)
	}

	b.publishMovement(ctx, b.topics.Withdrawals, EventTypeWithdrawalMade, principal, asset, amount)
	b.observe(opWithdraw, start)
	return nil
}

// BalanceOf returns the principal's balance of asset.
func (b *Bank) BalanceOf(principal, asset common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.accounts.Exists(principal) {
		return 0, ErrAccountNotExists
	}
	return b.balances[balanceKey{principal: principal, asset: asset}], nil
}

func (b *Bank) DepositCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deposits
}

func (b *Bank) WithdrawCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.withdrawals
}

// TotalNative is the custodied native total across all accounts.
func (b *Bank) TotalNative() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalNative
}

// DisplayAmount renders a raw amount shifted by the asset's value scale.
func (b *Bank) DisplayAmount(asset common.Address, amount uint64) string {
	scale := b.nativeScale
	if asset != NativeAsset {
		if desc, ok := b.catalog.Get(asset); ok {
			scale = desc.ValueScale
		} else {
			scale = 0
		}
	}
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(scale)).String()
}

// checkDeposit verifies the account and amount preconditions shared by the
// deposit paths. Caller holds b.mu.
func (b *Bank) checkDeposit(principal common.Address, amount uint64) error {
	if !b.accounts.Exists(principal) {
		return ErrAccountNotExists
	}
	if amount == 0 {
		return ErrInvalidDeposit
	}
	return nil
}

// creditNative applies a native deposit. Caller holds b.mu and has already
// verified the cap.
func (b *Bank) creditNative(principal common.Address, amount uint64) {
	key := balanceKey{principal: principal, asset: NativeAsset}
	b.balances[key] += amount
	b.totalNative += amount
	b.deposits++
	b.accounts.setNativeBalance(principal, b.balances[key])
	b.updateCustodyGauge()
}

func (b *Bank) updateCustodyGauge() {
	if b.metrics != nil {
		b.metrics.SetTotalNative(float64(b.totalNative))
	}
}

func (b *Bank) observe(op string, start time.Time) {
	if b.metrics != nil {
		b.metrics.ObserveOperation(op, "success", time.Since(start))
	}
}

func (b *Bank) reject(err error) {
	if b.metrics != nil {
		b.metrics.IncRejected(rejectReason(err))
	}
}

func rejectReason(err error) string {
	var limitErr *ExceedWithdrawAmountError
	var fundsErr *InsufficientFundsError
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &limitErr):
		return "exceed_withdraw_amount"
	case errors.As(err, &fundsErr):
		return "insufficient_funds"
	case errors.Is(err, ErrAccountAlreadyExists):
		return "account_already_exists"
	case errors.Is(err, ErrAccountNotExists):
		return "account_not_exists"
	case errors.Is(err, ErrExceedBankCap):
		return "exceed_bank_cap"
	case errors.Is(err, ErrInvalidDeposit):
		return "invalid_deposit"
	case errors.Is(err, ErrTokenNotSupported):
		return "token_not_supported"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrReentrant):
		return "reentrant"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "other"
	}
}

func (b *Bank) publishMovement(ctx context.Context, topic, eventType string, principal, asset common.Address, amount uint64) {
	if b.publisher == nil {
		return
	}

	env, err := kafka.NewEnvelope(eventType, 1, "")
	if err != nil {
		b.logger.Error("event envelope failed", "type", eventType, "error", err)
		return
	}

	payload := BalanceMovedEvent{
		Envelope:      env,
		Principal:     principal.Hex(),
		Asset:         asset.Hex(),
		Amount:        fmt.Sprintf("%d", amount),
		AmountDisplay: b.DisplayAmount(asset, amount),
	}

	if _, _, err := b.publisher.PublishJSON(ctx, topic, principal.Hex(), payload); err != nil {
		b.logger.Error("event publish failed", "topic", topic, "error", err)
	}
}

func (b *Bank) publishCatalog(ctx context.Context, asset common.Address, desc TokenDescriptor) {
	if b.publisher == nil {
		return
	}

	env, err := kafka.NewEnvelope(EventTypeCatalogChanged, 1, "")
	if err != nil {
		b.logger.Error("event envelope failed", "type", EventTypeCatalogChanged, "error", err)
		return
	}

	payload := CatalogChangedEvent{
		Envelope:   env,
		Asset:      asset.Hex(),
		Supported:  desc.Supported,
		ValueScale: desc.ValueScale,
		OracleRef:  desc.OracleRef.Hex(),
	}

	if _, _, err := b.publisher.PublishJSON(ctx, b.topics.Catalog, asset.Hex(), payload); err != nil {
		b.logger.Error("event publish failed", "topic", b.topics.Catalog, "error", err)
	}
}
