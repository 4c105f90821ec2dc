package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/trongkhoidev/oreka-tracker/pkg/types"
	"go.uber.org/zap"
)

const evmSource = "evm"

const marketABI = `[
	{"anonymous":false,"name":"StakePlaced","type":"event","inputs":[
		{"indexed":true,"name":"market","type":"address"},
		{"indexed":true,"name":"user","type":"address"},
		{"indexed":false,"name":"outcome","type":"uint8"},
		{"indexed":false,"name":"amount","type":"uint256"},
		{"indexed":false,"name":"timestamp","type":"uint64"}]},
	{"name":"getMarket","type":"function","stateMutability":"view",
		"inputs":[{"name":"market","type":"address"}],
		"outputs":[
			{"name":"openTime","type":"uint64"},
			{"name":"closeTime","type":"uint64"},
			{"name":"amounts","type":"uint256[]"},
			{"name":"resolved","type":"bool"}]}
]`

// ChainReader is the subset of ethclient.Client the EVM adapter needs.
type ChainReader interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EVMConfig holds configuration for the EVM adapter.
type EVMConfig struct {
	RPCURL          string
	ContractAddress string
	FromBlock       uint64
	TokenDecimals   int32
	Logger          *zap.Logger

	// Client overrides dialing RPCURL.
	Client ChainReader
}

// EVMSource reads StakePlaced logs and getMarket views from a contract.
type EVMSource struct {
	client    ChainReader
	contract  common.Address
	fromBlock uint64
	decimals  int32
	abi       abi.ABI
	logger    *zap.Logger
	closer    func()
}

// NewEVMSource dials the RPC endpoint unless a client is provided.
func NewEVMSource(ctx context.Context, cfg *EVMConfig) (*EVMSource, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}

	parsedABI, err := abi.JSON(strings.NewReader(marketABI))
	if err != nil {
		return nil, fmt.Errorf("parse ABI: %w", err)
	}

	s := &EVMSource{
		client:    cfg.Client,
		contract:  common.HexToAddress(cfg.ContractAddress),
		fromBlock: cfg.FromBlock,
		decimals:  cfg.TokenDecimals,
		abi:       parsedABI,
		logger:    cfg.Logger,
		closer:    func() {},
	}

	if s.client == nil {
		if cfg.RPCURL == "" {
			return nil, errors.New("rpcURL cannot be empty")
		}
		client, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("dial RPC: %w", err)
		}
		s.client = client
		s.closer = client.Close
	}

	return s, nil
}

// FetchEvents filters StakePlaced logs for the market from max(since, FromBlock).
func (s *EVMSource) FetchEvents(ctx context.Context, marketID string, since uint64) []types.StakeEvent {
	start := time.Now()
	defer func() {
		FetchDurationSeconds.WithLabelValues(evmSource, "events").Observe(time.Since(start).Seconds())
	}()

	if !common.IsHexAddress(marketID) {
		FetchErrorsTotal.WithLabelValues(evmSource, "events").Inc()
		s.logger.Warn("invalid-market-address", zap.String("market-id", marketID))
		return []types.StakeEvent{}
	}

	from := s.fromBlock
	if since > from {
		from = since
	}

	market := common.HexToAddress(marketID)
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		Addresses: []common.Address{s.contract},
		Topics: [][]common.Hash{
			{s.abi.Events["StakePlaced"].ID},
			{common.BytesToHash(market.Bytes())},
		},
	}

	logs, err := s.client.FilterLogs(ctx, query)
	if err != nil {
		FetchErrorsTotal.WithLabelValues(evmSource, "events").Inc()
		s.logger.Warn("fetch-events-failed",
			zap.String("market-id", marketID),
			zap.Error(err))
		return []types.StakeEvent{}
	}

	events := make([]types.StakeEvent, 0, len(logs))
	for i := range logs {
		ev, err := s.decodeLog(marketID, &logs[i])
		if err != nil {
			EventsDroppedTotal.WithLabelValues(evmSource, "decode").Inc()
			s.logger.Debug("dropping-log",
				zap.String("market-id", marketID),
				zap.Uint64("block", logs[i].BlockNumber),
				zap.Error(err))
			continue
		}
		EventsFetchedTotal.WithLabelValues(evmSource, string(ev.Kind)).Inc()
		events = append(events, ev)
	}

	s.logger.Debug("fetched-events",
		zap.String("market-id", marketID),
		zap.Int("logs", len(logs)),
		zap.Int("count", len(events)))

	return events
}

func (s *EVMSource) decodeLog(marketID string, lg *ethtypes.Log) (types.StakeEvent, error) {
	if lg.Removed {
		return types.StakeEvent{}, errors.New("log removed by reorg")
	}
	if len(lg.Topics) < 3 {
		return types.StakeEvent{}, fmt.Errorf("expected 3 topics, got %d", len(lg.Topics))
	}

	fields := map[string]interface{}{}
	err := s.abi.UnpackIntoMap(fields, "StakePlaced", lg.Data)
	if err != nil {
		return types.StakeEvent{}, fmt.Errorf("unpack log: %w", err)
	}

	outcome, ok := fields["outcome"].(uint8)
	if !ok {
		return types.StakeEvent{}, errNoSide
	}
	amount, _ := fields["amount"].(*big.Int)
	timestamp, _ := fields["timestamp"].(uint64)

	return types.StakeEvent{
		MarketID: marketID,
		Time:     NormalizeTimestamp(int64(timestamp)),
		Side:     int(outcome),
		Amount:   bigToDisplay(amount, s.decimals),
		User:     common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
		Sequence: lg.BlockNumber<<16 | uint64(lg.Index),
		Kind:     types.EventKindStake,
	}, nil
}

// FetchMarket calls getMarket on the contract.
func (s *EVMSource) FetchMarket(ctx context.Context, marketID string) (*types.MarketInfo, error) {
	start := time.Now()
	defer func() {
		FetchDurationSeconds.WithLabelValues(evmSource, "view").Observe(time.Since(start).Seconds())
	}()

	if !common.IsHexAddress(marketID) {
		return nil, fmt.Errorf("invalid market address %q: %w", marketID, types.ErrMarketNotFound)
	}

	data, err := s.abi.Pack("getMarket", common.HexToAddress(marketID))
	if err != nil {
		return nil, fmt.Errorf("pack ABI: %w", err)
	}

	msg := ethereum.CallMsg{
		To:   &s.contract,
		Data: data,
	}

	result, err := s.client.CallContract(ctx, msg, nil)
	if err != nil {
		FetchErrorsTotal.WithLabelValues(evmSource, "view").Inc()
		return nil, fmt.Errorf("call contract: %w", err)
	}

	out, err := s.abi.Unpack("getMarket", result)
	if err != nil {
		FetchErrorsTotal.WithLabelValues(evmSource, "view").Inc()
		return nil, fmt.Errorf("unpack result: %w", err)
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("unexpected result length %d", len(out))
	}

	openTime, _ := out[0].(uint64)
	closeTime, _ := out[1].(uint64)
	amounts, _ := out[2].([]*big.Int)
	resolved, _ := out[3].(bool)

	// Unknown markets come back zero-valued.
	if closeTime == 0 {
		return nil, fmt.Errorf("market %s has no close time: %w", marketID, types.ErrMarketNotFound)
	}

	info := &types.MarketInfo{
		MarketID:  marketID,
		OpenTime:  NormalizeTimestamp(int64(openTime)),
		CloseTime: NormalizeTimestamp(int64(closeTime)),
		Resolved:  resolved,
	}
	for _, a := range amounts {
		info.Totals = append(info.Totals, bigToDisplay(a, s.decimals))
	}
	info.Outcomes = len(info.Totals)

	return info, nil
}

// Close releases the RPC connection when this source dialed it.
func (s *EVMSource) Close() {
	s.closer()
}
