// Package reconcile partitions payout ledger rows into claimed and
// unclaimed sets by cross-referencing decoded on-chain settlement events.
package reconcile

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/S01-Issuer/claims-engine/pkg/hypersync"
	"github.com/S01-Issuer/claims-engine/pkg/ledger"
)

// Trade is one transaction the wallet made against the relevant on-chain
// order. Trades bound the block range worth scanning for settlement logs;
// they come from the upstream trade repository, which already handles
// retry and dedup.
type Trade struct {
	TxHash      common.Hash
	BlockNumber uint64
}

// TradeSource supplies the wallet's known trades for an order.
type TradeSource interface {
	TradesForOrder(ctx context.Context, wallet common.Address, orderID string) ([]Trade, error)
}

// ClaimedRow pairs a ledger row with the settlement event that claimed it.
type ClaimedRow struct {
	Row   ledger.Row
	Event hypersync.Event
}

// Result is the partition of one claim source's rows for one wallet.
// Claimed and Unclaimed together cover exactly the rows addressed to the
// wallet, and Earned = ClaimedTotal + UnclaimedTotal by construction.
type Result struct {
	Claimed        []ClaimedRow
	Unclaimed      []ledger.Row
	ClaimedTotal   *big.Int
	UnclaimedTotal *big.Int
	EarnedTotal    *big.Int
}

// Reconciler retrieves settlement logs and computes partitions.
type Reconciler struct {
	indexer   *hypersync.Client
	orderbook common.Address
	topic     common.Hash
	logger    *zap.Logger
}

// New returns a reconciler bound to the order-book contract and its
// settlement event topic.
func New(indexer *hypersync.Client, orderbook common.Address, topic common.Hash, logger *zap.Logger) *Reconciler {
	return &Reconciler{indexer: indexer, orderbook: orderbook, topic: topic, logger: logger}
}

// Run partitions rows for the wallet. With no known trades there is no
// block range to scan and nothing can have been claimed, so every wallet
// row is unclaimed without an indexer round-trip. Partitioning always uses
// a single snapshot of decoded events; pages are never applied
// incrementally.
func (r *Reconciler) Run(ctx context.Context, rows []ledger.Row, wallet common.Address, trades []Trade) Result {
	walletRows := filterRows(rows, wallet)

	var events []hypersync.Event
	if lo, hi, ok := blockRange(trades); ok {
		page := r.indexer.LogsInRange(ctx, r.orderbook, r.topic, lo, hi)
		decoded, err := hypersync.DecodeEvents(page)
		if err != nil {
			// Best-effort: an undecodable page yields an empty snapshot
			// rather than a partial one. A later submit would still be
			// guarded by the pre-flight simulation.
			r.logger.Warn("Settlement log decode failed, treating range as empty",
				zap.String("wallet", wallet.Hex()),
				zap.Uint64("from_block", lo),
				zap.Uint64("to_block", hi),
				zap.Error(err))
		} else {
			events = filterEvents(decoded, wallet)
		}
	}

	claimedIdx := make(map[uint64]hypersync.Event, len(events))
	for _, ev := range events {
		claimedIdx[ev.Index] = ev
	}

	result := Result{
		ClaimedTotal:   new(big.Int),
		UnclaimedTotal: new(big.Int),
		EarnedTotal:    new(big.Int),
	}
	for _, row := range walletRows {
		if ev, ok := claimedIdx[row.Index]; ok {
			result.Claimed = append(result.Claimed, ClaimedRow{Row: row, Event: ev})
			result.ClaimedTotal.Add(result.ClaimedTotal, row.Amount)
		} else {
			result.Unclaimed = append(result.Unclaimed, row)
			result.UnclaimedTotal.Add(result.UnclaimedTotal, row.Amount)
		}
	}
	result.EarnedTotal.Add(result.ClaimedTotal, result.UnclaimedTotal)
	return result
}

func blockRange(trades []Trade) (lo, hi uint64, ok bool) {
	if len(trades) == 0 {
		return 0, 0, false
	}
	lo, hi = trades[0].BlockNumber, trades[0].BlockNumber
	for _, tr := range trades[1:] {
		if tr.BlockNumber < lo {
			lo = tr.BlockNumber
		}
		if tr.BlockNumber > hi {
			hi = tr.BlockNumber
		}
	}
	return lo, hi, true
}

func filterRows(rows []ledger.Row, wallet common.Address) []ledger.Row {
	out := make([]ledger.Row, 0, len(rows))
	for _, row := range rows {
		if row.Address == wallet {
			out = append(out, row)
		}
	}
	return out
}

func filterEvents(events []hypersync.Event, wallet common.Address) []hypersync.Event {
	out := make([]hypersync.Event, 0, len(events))
	for _, ev := range events {
		if ev.Address == wallet {
			out = append(out, ev)
		}
	}
	return out
}
