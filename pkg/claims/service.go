// Package claims orchestrates per-wallet claim aggregation: validating
// ledgers, reconciling them against on-chain settlement events, and
// preparing every unclaimed holding with a proof and signed authorization
// ready for submission.
package claims

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/S01-Issuer/claims-engine/pkg/cache"
	"github.com/S01-Issuer/claims-engine/pkg/cas"
	"github.com/S01-Issuer/claims-engine/pkg/config"
	"github.com/S01-Issuer/claims-engine/pkg/ledger"
	"github.com/S01-Issuer/claims-engine/pkg/merkle"
	"github.com/S01-Issuer/claims-engine/pkg/reconcile"
)

// Service aggregates claims across every configured source.
type Service struct {
	registry *config.Registry
	gateway  *cas.Client
	recon    *reconcile.Reconciler
	trades   reconcile.TradeSource
	signer   Signer
	pool     pond.Pool
	logger   *zap.Logger

	// Parsed ledgers are immutable once validated (content-addressed), so
	// this cache has no TTL, only a memory bound in practice.
	ledgers *cache.TTL[[]ledger.Row]
	// Aggregate results expire, since new settlement events arrive.
	results cache.Store[*AggregatedResult]

	loadTimeout time.Duration
}

// Opts wires the service's collaborators.
type Opts struct {
	Registry    *config.Registry
	Gateway     *cas.Client
	Reconciler  *reconcile.Reconciler
	Trades      reconcile.TradeSource
	Signer      Signer
	ResultCache cache.Store[*AggregatedResult]
	LoadTimeout time.Duration
	PoolSize    int
}

// DefaultResultTTL bounds how stale a cached wallet view may be.
const DefaultResultTTL = 5 * time.Minute

// NewService constructs the aggregation service. All collaborators are
// injected so tests can instantiate isolated instances; there is no
// process-wide state.
func NewService(logger *zap.Logger, o Opts) *Service {
	if o.LoadTimeout <= 0 {
		o.LoadTimeout = 60 * time.Second
	}
	if o.ResultCache == nil {
		o.ResultCache = cache.NewTTL[*AggregatedResult](DefaultResultTTL)
	}
	poolSize := o.PoolSize
	if poolSize <= 0 {
		poolSize = len(o.Registry.AllSources())
		if poolSize < 2 {
			poolSize = 2
		}
		if poolSize > 64 {
			poolSize = 64
		}
	}
	return &Service{
		registry:    o.Registry,
		gateway:     o.Gateway,
		recon:       o.Reconciler,
		trades:      o.Trades,
		signer:      o.Signer,
		pool:        pond.NewPool(poolSize),
		logger:      logger,
		ledgers:     cache.NewTTL[[]ledger.Row](0),
		results:     o.ResultCache,
		loadTimeout: o.LoadTimeout,
	}
}

// LoadWallet returns the wallet's aggregate view, computing it if no valid
// cached entry exists. Sources are loaded in parallel with independent
// failure domains: one source failing flips HasPartialData instead of
// aborting the wallet load.
func (s *Service) LoadWallet(ctx context.Context, wallet common.Address) (*AggregatedResult, error) {
	key := cacheKey(wallet)
	if cached, ok := s.results.Get(ctx, key); ok {
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.loadTimeout)
	defer cancel()

	sources := s.registry.AllSources()
	outcomes := make([]sourceOutcome, len(sources))

	group := s.pool.NewGroup()
	for i, src := range sources {
		group.Submit(func() {
			outcomes[i] = s.loadSource(ctx, src, wallet)
		})
	}
	// Tasks record failures in their outcome slot rather than returning
	// errors, so a rejected source never cancels its siblings.
	_ = group.Wait()

	result := s.merge(wallet, sources, outcomes)
	s.results.Set(ctx, key, result)
	return result, nil
}

// Invalidate drops the wallet's cached aggregate so the next load
// recomputes.
func (s *Service) Invalidate(ctx context.Context, wallet common.Address) {
	s.results.Delete(ctx, cacheKey(wallet))
}

// SweepLedgerCache removes nothing today (content-addressed entries never
// expire) but keeps the hook for a future memory bound.
func (s *Service) SweepLedgerCache() int {
	return s.ledgers.Sweep()
}

func cacheKey(wallet common.Address) string {
	return strings.ToLower(wallet.Hex())
}

type sourceOutcome struct {
	res      reconcile.Result
	holdings []UnclaimedHolding
	history  []HistoryEntry
	err      error
}

// loadSource runs one claim source end to end for the wallet. The ledger
// fetch+validate and the trade lookup have no data dependency, so they run
// concurrently and join before reconciliation.
func (s *Service) loadSource(ctx context.Context, src config.ClaimSource, wallet common.Address) sourceOutcome {
	var (
		trades    []reconcile.Trade
		tradesErr error
	)
	tradesDone := make(chan struct{})
	go func() {
		defer close(tradesDone)
		trades, tradesErr = s.trades.TradesForOrder(ctx, wallet, src.OrderID)
	}()

	rows, rowsErr := s.ledgerRows(ctx, src)
	<-tradesDone

	if rowsErr != nil {
		return sourceOutcome{err: rowsErr}
	}
	if tradesErr != nil {
		return sourceOutcome{err: tradesErr}
	}

	res := s.recon.Run(ctx, rows, wallet, trades)
	out := sourceOutcome{res: res}

	for _, claimed := range res.Claimed {
		entry := HistoryEntry{
			TokenAddress:  src.TokenAddress,
			GroupName:     src.GroupName,
			Amount:        claimed.Row.Amount,
			AmountDisplay: Display(claimed.Row.Amount),
			TxHash:        claimed.Event.TxHash,
			Date:          claimed.Event.Timestamp,
			Status:        "completed",
		}
		out.history = append(out.history, entry)
	}

	if len(res.Unclaimed) == 0 {
		return out
	}

	tree, err := merkle.New(rows)
	if err != nil {
		return sourceOutcome{err: err}
	}
	for _, row := range res.Unclaimed {
		proof, proveErr := tree.Prove(merkle.LeafHash(row))
		if proveErr != nil {
			// A row's leaf missing from its own tree is a data-integrity
			// bug, not a recoverable condition. The row stays in the
			// totals; it just cannot be claimed until the ledger is fixed.
			s.logger.Error("Row leaf missing from its own accumulator",
				zap.String("content_link", src.ContentLink),
				zap.Uint64("index", row.Index),
				zap.Error(proveErr))
			continue
		}
		auth, authErr := s.authorize(row, proof)
		if authErr != nil {
			return sourceOutcome{err: authErr}
		}
		out.holdings = append(out.holdings, UnclaimedHolding{
			Index:     row.Index,
			Amount:    row.Amount,
			OrderID:   src.OrderID,
			Orderbook: s.registry.Orderbook(),
			Proof:     proof,
			Auth:      auth,
			GroupName: src.GroupName,
		})
	}
	return out
}

// ledgerRows returns the source's parsed, validated rows, memoized by
// content link.
func (s *Service) ledgerRows(ctx context.Context, src config.ClaimSource) ([]ledger.Row, error) {
	if rows, ok := s.ledgers.Get(ctx, src.ContentLink); ok {
		return rows, nil
	}
	rows, err := s.gateway.Validate(ctx, src.ContentLink, src.ExpectedContentHash, src.Root())
	if err != nil {
		return nil, err
	}
	s.ledgers.Set(ctx, src.ContentLink, rows)
	return rows, nil
}

// authorize signs the row's claim context: index, amount, then the proof
// path, packed as 32-byte big-endian words and keccak-hashed.
func (s *Service) authorize(row ledger.Row, proof merkle.Proof) (SignedAuthorization, error) {
	words := make([]common.Hash, 0, 2+len(proof.Siblings))
	words = append(words, word(uint256.NewInt(row.Index)))

	amount := new(uint256.Int)
	amount.SetFromBig(row.Amount)
	words = append(words, word(amount))

	for _, sibling := range proof.Siblings {
		words = append(words, sibling)
	}

	sig, err := s.signer.Sign(contextDigest(words))
	if err != nil {
		return SignedAuthorization{}, err
	}
	return SignedAuthorization{
		Signer:    s.signer.Address(),
		Context:   words,
		Signature: sig,
	}, nil
}

// merge folds per-source outcomes into the wallet view: holdings grouped
// by token address across batches, a flat history sorted newest first, and
// exact aggregate totals.
func (s *Service) merge(wallet common.Address, sources []config.ClaimSource, outcomes []sourceOutcome) *AggregatedResult {
	result := &AggregatedResult{
		Wallet:   wallet,
		Totals:   newTotals(),
		LoadedAt: time.Now().UTC(),
	}

	groups := map[common.Address]*HoldingsGroup{}
	for i, out := range outcomes {
		src := sources[i]
		if out.err != nil {
			result.HasPartialData = true
			s.logger.Warn("Claim source failed, continuing with partial data",
				zap.String("wallet", wallet.Hex()),
				zap.String("group", src.GroupName),
				zap.String("token", src.TokenAddress.Hex()),
				zap.String("content_link", src.ContentLink),
				zap.Error(out.err))
			continue
		}

		result.Totals.Claimed.Add(result.Totals.Claimed, out.res.ClaimedTotal)
		result.Totals.Unclaimed.Add(result.Totals.Unclaimed, out.res.UnclaimedTotal)
		result.History = append(result.History, out.history...)

		if len(out.holdings) == 0 {
			continue
		}
		group, ok := groups[src.TokenAddress]
		if !ok {
			group = &HoldingsGroup{
				TokenAddress: src.TokenAddress,
				GroupName:    src.GroupName,
				TotalAmount:  new(big.Int),
			}
			groups[src.TokenAddress] = group
		}
		group.Unclaimed = append(group.Unclaimed, out.holdings...)
		group.TotalAmount.Add(group.TotalAmount, out.res.UnclaimedTotal)
	}

	result.Totals.Earned.Add(result.Totals.Claimed, result.Totals.Unclaimed)
	result.Totals.finishDisplay()

	for _, group := range groups {
		group.TotalDisplay = Display(group.TotalAmount)
		result.Holdings = append(result.Holdings, *group)
	}
	sort.Slice(result.Holdings, func(i, j int) bool {
		return result.Holdings[i].TokenAddress.Hex() < result.Holdings[j].TokenAddress.Hex()
	})
	sort.SliceStable(result.History, func(i, j int) bool {
		di, dj := result.History[i].Date, result.History[j].Date
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return di.After(*dj)
		}
	})
	return result
}
