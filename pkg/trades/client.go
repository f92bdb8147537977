// Package trades adapts the upstream trade repository (which already
// handles retry, fallback and dedup for the order-trade graph) to the
// reconciler's TradeSource interface.
package trades

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/S01-Issuer/claims-engine/pkg/reconcile"
	"github.com/S01-Issuer/claims-engine/pkg/retry"
	"github.com/S01-Issuer/claims-engine/pkg/utils"
)

// Client fetches a wallet's trades against an order from the repository's
// JSON API.
type Client struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
	retryCfg retry.Config
}

// Opts is the set of options for a new Client.
type Opts struct {
	Endpoint   string
	Timeout    time.Duration
	Retry      *retry.Config
	HTTPClient *http.Client
}

// NewClient creates a trade repository client.
func NewClient(logger *zap.Logger, o Opts) *Client {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	retryCfg := retry.DefaultConfig()
	if o.Retry != nil {
		retryCfg = *o.Retry
	}
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	}
	return &Client{
		endpoint: strings.TrimRight(o.Endpoint, "/"),
		client:   client,
		logger:   logger,
		retryCfg: retryCfg,
	}
}

type tradeRecord struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// TradesForOrder returns the wallet's known trade transactions against the
// order.
func (c *Client) TradesForOrder(ctx context.Context, wallet common.Address, orderID string) ([]reconcile.Trade, error) {
	target := fmt.Sprintf("%s/trades?wallet=%s&order=%s",
		c.endpoint, wallet.Hex(), url.QueryEscape(orderID))

	var records []tradeRecord
	err := retry.WithBackoff(ctx, c.retryCfg, c.logger, "trade lookup", func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if reqErr != nil {
			return reqErr
		}
		resp, doErr := c.client.Do(req)
		if doErr != nil {
			return doErr
		}
		defer func() { _ = utils.DrainAndClose(resp.Body) }()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("http %d", resp.StatusCode)
		}
		var decoded []tradeRecord
		if decErr := json.NewDecoder(resp.Body).Decode(&decoded); decErr != nil {
			return decErr
		}
		records = decoded
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("trades: %s order %s: %w", wallet.Hex(), orderID, err)
	}

	out := make([]reconcile.Trade, 0, len(records))
	for _, r := range records {
		out = append(out, reconcile.Trade{
			TxHash:      common.HexToHash(r.TxHash),
			BlockNumber: r.BlockNumber,
		})
	}
	return out, nil
}
