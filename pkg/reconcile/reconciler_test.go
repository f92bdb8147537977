package reconcile_test

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/S01-Issuer/claims-engine/pkg/hypersync"
	"github.com/S01-Issuer/claims-engine/pkg/ledger"
	"github.com/S01-Issuer/claims-engine/pkg/reconcile"
	"github.com/S01-Issuer/claims-engine/pkg/retry"
)

var (
	orderbookAddr = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	settleTopic   = common.HexToHash("0x0000000000000000000000000000000000000000000000000000000000000aa1")
	wallet        = common.HexToAddress("0x1111111111111111111111111111111111111111")
	otherWallet   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	fastRetry     = retry.Config{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
)

func eventData(addr common.Address, amount *big.Int, index uint64) string {
	buf := make([]byte, 0, 96)
	buf = append(buf, common.LeftPadBytes(addr.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(amount.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(new(big.Int).SetUint64(index).Bytes(), 32)...)
	return hexutil.Encode(buf)
}

func testLedger() []ledger.Row {
	return []ledger.Row{
		{Index: 0, Address: wallet, Amount: big.NewInt(1000)},
		{Index: 1, Address: wallet, Amount: big.NewInt(2000)},
		{Index: 2, Address: otherWallet, Amount: big.NewInt(4000)},
		{Index: 3, Address: wallet, Amount: big.NewInt(8000)},
	}
}

// newReconciler serves one page of settlement events for every log query.
func newReconciler(t *testing.T, calls *atomic.Int64, events []map[string]any) (*reconcile.Reconciler, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{
				"blocks": []map[string]any{{"number": 120, "timestamp": 1700000000}},
				"logs":   events,
			}},
			"next_block": 0,
		})
	}))
	indexer := hypersync.NewClient(zap.NewNop(), hypersync.Opts{Endpoint: srv.URL, Retry: &fastRetry})
	return reconcile.New(indexer, orderbookAddr, settleTopic, zap.NewNop()), srv
}

func logFor(data string) map[string]any {
	return map[string]any{
		"block_number":     120,
		"log_index":        0,
		"transaction_hash": "0x00000000000000000000000000000000000000000000000000000000000000aa",
		"data":             data,
		"address":          orderbookAddr.Hex(),
		"topic0":           settleTopic.Hex(),
	}
}

// With no known trades there is no block range and nothing can have been
// claimed; the indexer must not even be queried.
func TestRunNoTrades(t *testing.T) {
	var calls atomic.Int64
	recon, srv := newReconciler(t, &calls, nil)
	defer srv.Close()

	res := recon.Run(context.Background(), testLedger(), wallet, nil)

	assert.Zero(t, calls.Load(), "no indexer round-trip without trades")
	assert.Empty(t, res.Claimed)
	assert.Len(t, res.Unclaimed, 3)
	assert.Zero(t, res.ClaimedTotal.Sign())
	assert.Zero(t, res.UnclaimedTotal.Cmp(big.NewInt(11000)))
	assert.Zero(t, res.EarnedTotal.Cmp(big.NewInt(11000)))
}

// Partition completeness: claimed and unclaimed are disjoint and together
// cover exactly the wallet's rows, and earned = claimed + unclaimed.
func TestRunPartition(t *testing.T) {
	var calls atomic.Int64
	recon, srv := newReconciler(t, &calls, []map[string]any{
		logFor(eventData(wallet, big.NewInt(1000), 0)),
		logFor(eventData(wallet, big.NewInt(8000), 3)),
		// Another wallet's settlement must not count for ours.
		logFor(eventData(otherWallet, big.NewInt(4000), 2)),
	})
	defer srv.Close()

	trades := []reconcile.Trade{
		{TxHash: common.HexToHash("0x01"), BlockNumber: 110},
		{TxHash: common.HexToHash("0x02"), BlockNumber: 130},
	}
	res := recon.Run(context.Background(), testLedger(), wallet, trades)

	require.Len(t, res.Claimed, 2)
	require.Len(t, res.Unclaimed, 1)
	assert.Equal(t, uint64(1), res.Unclaimed[0].Index)

	claimedIdx := map[uint64]bool{}
	for _, c := range res.Claimed {
		claimedIdx[c.Row.Index] = true
		require.NotNil(t, c.Event.Timestamp, "timestamp joined from block header")
	}
	assert.False(t, claimedIdx[res.Unclaimed[0].Index], "partitions are disjoint")

	assert.Zero(t, res.ClaimedTotal.Cmp(big.NewInt(9000)))
	assert.Zero(t, res.UnclaimedTotal.Cmp(big.NewInt(2000)))
	assert.Zero(t, res.EarnedTotal.Cmp(new(big.Int).Add(res.ClaimedTotal, res.UnclaimedTotal)))
}

// An indexer outage yields an empty snapshot: everything unclaimed, no
// error. Partial reads beat none; submission is still simulation-guarded.
func TestRunIndexerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	indexer := hypersync.NewClient(zap.NewNop(), hypersync.Opts{Endpoint: srv.URL, Retry: &fastRetry})
	recon := reconcile.New(indexer, orderbookAddr, settleTopic, zap.NewNop())

	trades := []reconcile.Trade{{TxHash: common.HexToHash("0x01"), BlockNumber: 110}}
	res := recon.Run(context.Background(), testLedger(), wallet, trades)

	assert.Empty(t, res.Claimed)
	assert.Len(t, res.Unclaimed, 3)
	assert.Zero(t, res.EarnedTotal.Cmp(big.NewInt(11000)))
}
