// Package transfer holds asset-transfer collaborators consumed by the bank
// engine. The real movement of funds happens outside this service; the
// engine only sees success or failure per transfer.
package transfer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"log/slog"
)

// Stub is a Transferor that records transfers in the log and reports
// success. It stands in for a chain-backed custody adapter in dev and test
// deployments.
type Stub struct {
	logger *slog.Logger
}

func NewStub(logger *slog.Logger) *Stub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stub{logger: logger}
}

func (s *Stub) PullIn(_ context.Context, asset, from common.Address, amount uint64) error {
	s.logger.Info("transfer in", "asset", asset.Hex(), "from", from.Hex(), "amount", amount)
	return nil
}

func (s *Stub) PushOut(_ context.Context, asset, to common.Address, amount uint64) error {
	s.logger.Info("transfer out", "asset", asset.Hex(), "to", to.Hex(), "amount", amount)
	return nil
}
