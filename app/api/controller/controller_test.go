package controller_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/S01-Issuer/claims-engine/app/api/controller"
	"github.com/S01-Issuer/claims-engine/app/api/types"
	"github.com/S01-Issuer/claims-engine/pkg/cas"
	"github.com/S01-Issuer/claims-engine/pkg/claims"
	"github.com/S01-Issuer/claims-engine/pkg/config"
	"github.com/S01-Issuer/claims-engine/pkg/hypersync"
	"github.com/S01-Issuer/claims-engine/pkg/ledger"
	"github.com/S01-Issuer/claims-engine/pkg/merkle"
	"github.com/S01-Issuer/claims-engine/pkg/orderbook"
	"github.com/S01-Issuer/claims-engine/pkg/reconcile"
	"github.com/S01-Issuer/claims-engine/pkg/retry"
)

const (
	holderAddr = "0x1111111111111111111111111111111111111111"
	testKey    = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

	batchCSV = "index,address,amount\n" +
		"0," + holderAddr + ",347760000000000000000\n"
)

var fastRetry = retry.Config{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

type noTrades struct{}

func (noTrades) TradesForOrder(ctx context.Context, wallet common.Address, orderID string) ([]reconcile.Trade, error) {
	return nil, nil
}

type fakeBackend struct {
	sendErr error
	sent    []*ethtypes.Transaction
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return []byte{}, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 1, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 300_000, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(8453), nil
}

// newRouter builds a full request path: registry, gateway, aggregation
// service and optionally a submission backend. gatewayStatus breaks the
// single claim source when not 200.
func newRouter(t *testing.T, backend *fakeBackend, gatewayStatus int) (http.Handler, func()) {
	t.Helper()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gatewayStatus != http.StatusOK {
			w.WriteHeader(gatewayStatus)
			return
		}
		_, _ = w.Write([]byte(batchCSV))
	}))
	indexer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("indexer must not be queried when no trades exist")
	}))

	tree, err := merkle.New(ledger.Parse(batchCSV))
	require.NoError(t, err)

	registryYAML := fmt.Sprintf(`
network:
  orderbook_address: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
  settlement_topic: "0x0000000000000000000000000000000000000000000000000000000000000aa1"
  indexer_endpoint: %q
asset_groups:
  - name: north-sea-alpha
    tokens:
      - address: "0xf836a500910453A397084ADe41321ee20a5AAde1"
        name: Alpha Royalty Token
        claim_sources:
          - content_link: %q
            expected_content_hash: bafybatch
            expected_merkle_root: %q
            order_id: "0x0102"
`, indexer.URL, gateway.URL+"/bafybatch", tree.Root().Hex())
	registry, err := config.Parse([]byte(registryYAML))
	require.NoError(t, err)

	signer, err := claims.NewLocalSigner(testKey)
	require.NoError(t, err)

	service := claims.NewService(zap.NewNop(), claims.Opts{
		Registry: registry,
		Gateway:  cas.NewClient(zap.NewNop(), cas.Opts{RPS: 1000, Burst: 1000, Retry: &fastRetry}),
		Reconciler: reconcile.New(
			hypersync.NewClient(zap.NewNop(), hypersync.Opts{Endpoint: indexer.URL, Retry: &fastRetry}),
			registry.Orderbook(), registry.Topic(), zap.NewNop()),
		Trades: noTrades{},
		Signer: signer,
	})

	app := &types.App{
		Registry: registry,
		Service:  service,
		Logger:   zap.NewNop(),
	}
	if backend != nil {
		app.Assembler, err = orderbook.New(backend, signer, zap.NewNop())
		require.NoError(t, err)
	}

	router := controller.NewController(app).NewRouter()
	return router, func() {
		gateway.Close()
		indexer.Close()
	}
}

func do(router http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHandleHealth(t *testing.T) {
	router, done := newRouter(t, nil, http.StatusOK)
	defer done()

	rec := do(router, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestWalletClaimsInvalidAddress(t *testing.T) {
	router, done := newRouter(t, nil, http.StatusOK)
	defer done()

	rec := do(router, http.MethodGet, "/api/claims/not-an-address")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid wallet address")
}

func TestWalletClaimsOK(t *testing.T) {
	router, done := newRouter(t, nil, http.StatusOK)
	defer done()

	rec := do(router, http.MethodGet, "/api/claims/"+holderAddr)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Holdings       []json.RawMessage `json:"holdings"`
		HasPartialData bool              `json:"hasPartialData"`
		Totals         struct {
			UnclaimedDisplay string `json:"unclaimedDisplay"`
		} `json:"totals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.HasPartialData)
	assert.Len(t, body.Holdings, 1)
	assert.Equal(t, "347.76", body.Totals.UnclaimedDisplay)
}

// A degraded read still answers 200; the flag tells the UI what happened.
func TestWalletClaimsPartialDataStays200(t *testing.T) {
	router, done := newRouter(t, nil, http.StatusInternalServerError)
	defer done()

	rec := do(router, http.MethodGet, "/api/claims/"+holderAddr)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		HasPartialData bool `json:"hasPartialData"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.HasPartialData)
}

func TestRefreshRecomputes(t *testing.T) {
	router, done := newRouter(t, nil, http.StatusOK)
	defer done()

	first := do(router, http.MethodGet, "/api/claims/"+holderAddr)
	require.Equal(t, http.StatusOK, first.Code)

	rec := do(router, http.MethodPost, "/api/claims/"+holderAddr+"/refresh")
	require.Equal(t, http.StatusOK, rec.Code)

	var a, b struct {
		LoadedAt time.Time `json:"loadedAt"`
	}
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.NotEqual(t, a.LoadedAt, b.LoadedAt)
}

func TestSubmitUnconfigured(t *testing.T) {
	router, done := newRouter(t, nil, http.StatusOK)
	defer done()

	rec := do(router, http.MethodPost, "/api/claims/"+holderAddr+"/submit")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmitNothingToClaim(t *testing.T) {
	router, done := newRouter(t, &fakeBackend{}, http.StatusOK)
	defer done()

	stranger := "0x9999999999999999999999999999999999999999"
	rec := do(router, http.MethodPost, "/api/claims/"+stranger+"/submit")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "nothing to claim")
}

// Submission failure is a hard non-2xx, unlike degraded reads.
func TestSubmitFailureIsHardError(t *testing.T) {
	backend := &fakeBackend{sendErr: errors.New("nonce too low")}
	router, done := newRouter(t, backend, http.StatusOK)
	defer done()

	rec := do(router, http.MethodPost, "/api/claims/"+holderAddr+"/submit")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "nothing changed on-chain")
}

func TestSubmitOK(t *testing.T) {
	backend := &fakeBackend{}
	router, done := newRouter(t, backend, http.StatusOK)
	defer done()

	rec := do(router, http.MethodPost, "/api/claims/"+holderAddr+"/submit")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, backend.sent, 1)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, backend.sent[0].Hash().Hex(), body["tx"])
}
