package web3

import (
	"context"
	"math/big"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethevent "github.com/ethereum/go-ethereum/event"
)

// ChainSnapshot carries the chain metadata recorded alongside each agent
// run (hex chain id and block height at execution time).
type ChainSnapshot struct {
	ChainID     string
	BlockNumber string
	Notes       string
}

// EventSubscription wraps a contract log subscription so callers can
// consume and cancel it without importing the go-ethereum event package.
type EventSubscription struct {
	logs <-chan types.Log
	sub  gethevent.Subscription
}

// NewEventSubscription pairs a log channel with its subscription handle.
func NewEventSubscription(logs <-chan types.Log, sub gethevent.Subscription) *EventSubscription {
	return &EventSubscription{logs: logs, sub: sub}
}

// Logs returns the channel receiving matched contract logs.
func (e *EventSubscription) Logs() <-chan types.Log {
	return e.logs
}

// Err exposes the underlying subscription error channel.
func (e *EventSubscription) Err() <-chan error {
	if e == nil || e.sub == nil {
		return nil
	}
	return e.sub.Err()
}

// Close unsubscribes; the log channel stops receiving afterwards.
func (e *EventSubscription) Close() {
	if e == nil || e.sub == nil {
		return
	}
	e.sub.Unsubscribe()
}

// Client is the chain surface the agent and the Enzyme bindings depend
// on: read-side queries, the bound-contract backend, log access, and
// receipt waiting for submitted transactions.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Backend() bind.ContractBackend
	FilterLogs(ctx context.Context, query gethcore.FilterQuery) ([]types.Log, error)
	SubscribeEvents(ctx context.Context, query gethcore.FilterQuery) (*EventSubscription, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	Close()
}
