package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"log/slog"
)

var (
	// ErrInvalidPrice is returned by conversion when the feed reports a zero
	// or negative price. The raw reading is still available via LatestPrice;
	// only conversion refuses it, so a malfunctioning feed cannot produce a
	// bogus unsigned value.
	ErrInvalidPrice = errors.New("oracle price not positive")
	// ErrValueOutOfRange is returned when the converted value does not fit
	// the ledger's unsigned amount type.
	ErrValueOutOfRange = errors.New("converted value out of range")
)

// FeedSource queries a reference-price feed by its on-chain reference.
type FeedSource interface {
	LatestPrice(ctx context.Context, ref common.Address) (price *big.Int, updatedAt time.Time, err error)
}

type reading struct {
	price     *big.Int
	updatedAt time.Time
}

// Adapter wraps a feed source with a short-TTL cache and fixed-point
// conversion of native amounts into reference units.
type Adapter struct {
	source    FeedSource
	nativeRef common.Address
	scale     *big.Int
	cache     *expirable.LRU[common.Address, reading]
	logger    *slog.Logger
}

// NewAdapter builds an adapter. scaleDecimals is the feed's fixed-point
// exponent (8 for Chainlink-style aggregators); cacheTTL bounds how stale a
// cached reading may be, zero disables caching.
func NewAdapter(source FeedSource, nativeRef common.Address, scaleDecimals uint8, cacheTTL time.Duration, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	var cache *expirable.LRU[common.Address, reading]
	if cacheTTL > 0 {
		cache = expirable.NewLRU[common.Address, reading](16, nil, cacheTTL)
	}
	return &Adapter{
		source:    source,
		nativeRef: nativeRef,
		scale:     new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scaleDecimals)), nil),
		cache:     cache,
		logger:    logger,
	}
}

// LatestPrice returns the feed's latest reported value unmodified, signed,
// along with the feed's update timestamp. No freshness or positivity
// validation happens here.
func (a *Adapter) LatestPrice(ctx context.Context, ref common.Address) (*big.Int, time.Time, error) {
	if a.cache != nil {
		if r, ok := a.cache.Get(ref); ok {
			return new(big.Int).Set(r.price), r.updatedAt, nil
		}
	}

	price, updatedAt, err := a.source.LatestPrice(ctx, ref)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("query feed %s: %w", ref.Hex(), err)
	}

	if a.cache != nil {
		a.cache.Add(ref, reading{price: new(big.Int).Set(price), updatedAt: updatedAt})
	}
	return price, updatedAt, nil
}

// LatestNativePrice reads the configured native-asset feed.
func (a *Adapter) LatestNativePrice(ctx context.Context) (*big.Int, time.Time, error) {
	return a.LatestPrice(ctx, a.nativeRef)
}

// ConvertNative values a native amount in reference units:
// floor(amount * price / scale). Truncation rounds down; a zero or negative
// price is rejected with ErrInvalidPrice.
func (a *Adapter) ConvertNative(ctx context.Context, amount uint64) (uint64, error) {
	price, _, err := a.LatestNativePrice(ctx)
	if err != nil {
		return 0, err
	}
	if price.Sign() <= 0 {
		return 0, ErrInvalidPrice
	}

	value := new(big.Int).SetUint64(amount)
	value.Mul(value, price)
	value.Quo(value, a.scale)

	if !value.IsUint64() {
		return 0, ErrValueOutOfRange
	}
	return value.Uint64(), nil
}
