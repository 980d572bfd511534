package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const aggregatorABI = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}]`

// ChainlinkSource reads Chainlink-style aggregator feeds over an eth RPC
// endpoint.
type ChainlinkSource struct {
	client *ethclient.Client
	abi    abi.ABI
}

func NewChainlinkSource(client *ethclient.Client) (*ChainlinkSource, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABI))
	if err != nil {
		return nil, fmt.Errorf("parse aggregator abi: %w", err)
	}
	return &ChainlinkSource{client: client, abi: parsed}, nil
}

func (s *ChainlinkSource) LatestPrice(ctx context.Context, ref common.Address) (*big.Int, time.Time, error) {
	data, err := s.abi.Pack("latestRoundData")
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("pack latestRoundData: %w", err)
	}

	out, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &ref, Data: data}, nil)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("call feed: %w", err)
	}

	vals, err := s.abi.Unpack("latestRoundData", out)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("unpack latestRoundData: %w", err)
	}
	if len(vals) != 5 {
		return nil, time.Time{}, fmt.Errorf("unexpected feed response arity %d", len(vals))
	}

	answer, ok := vals[1].(*big.Int)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("unexpected answer type %T", vals[1])
	}
	updatedAtRaw, ok := vals[3].(*big.Int)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("unexpected updatedAt type %T", vals[3])
	}

	return answer, time.Unix(updatedAtRaw.Int64(), 0).UTC(), nil
}
