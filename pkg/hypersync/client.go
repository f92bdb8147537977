// Package hypersync retrieves on-chain claim-settlement logs from an
// indexing service in paginated block ranges.
package hypersync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/S01-Issuer/claims-engine/pkg/retry"
	"github.com/S01-Issuer/claims-engine/pkg/utils"
)

// Client queries a hypersync-style indexing endpoint.
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

// NewClient creates an indexing client with the given options.
func NewClient(logger *zap.Logger, o Opts) *Client {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
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

// query is the indexing service's request payload.
type query struct {
	Client         clientInfo     `json:"client"`
	FromBlock      uint64         `json:"from_block"`
	Logs           []logSelection `json:"logs"`
	FieldSelection fieldSelection `json:"field_selection"`
}

// clientInfo identifies the caller and its per-request timeout budget in
// milliseconds.
type clientInfo struct {
	Timeout uint64 `json:"timeout"`
}

type logSelection struct {
	Address []string   `json:"address"`
	Topics  [][]string `json:"topics"`
}

type fieldSelection struct {
	Block []string `json:"block"`
	Log   []string `json:"log"`
}

// RawLog is one undecoded log entry from the indexing service.
type RawLog struct {
	BlockNumber     uint64 `json:"block_number"`
	LogIndex        uint64 `json:"log_index"`
	TransactionHash string `json:"transaction_hash"`
	Data            string `json:"data"`
	Address         string `json:"address"`
	Topic0          string `json:"topic0"`
}

// BlockHeader carries the block fields needed to timestamp events.
type BlockHeader struct {
	Number    uint64 `json:"number"`
	Timestamp uint64 `json:"timestamp"`
}

type pageData struct {
	Blocks []BlockHeader `json:"blocks"`
	Logs   []RawLog      `json:"logs"`
}

type page struct {
	Data      []pageData `json:"data"`
	NextBlock uint64     `json:"next_block"`
}

// LogPage is the result of one range retrieval: raw logs plus block
// timestamps keyed by block number.
type LogPage struct {
	Logs       []RawLog
	Timestamps map[uint64]uint64
}

// LogsInRange retrieves every log for (contract, topic) within
// [fromBlock, toBlock], following the server's next_block cursor.
// Pagination stops when the cursor is zero, stalls, or passes toBlock.
// A failed page ends pagination with whatever was already retrieved:
// reconciliation is best-effort, and partial results beat none.
func (c *Client) LogsInRange(ctx context.Context, contract common.Address, topic common.Hash, fromBlock, toBlock uint64) LogPage {
	result := LogPage{Timestamps: map[uint64]uint64{}}
	if toBlock < fromBlock {
		return result
	}

	from := fromBlock
	for {
		p, err := c.fetchPage(ctx, contract, topic, from)
		if err != nil {
			c.logger.Warn("Log page retrieval failed, returning partial range",
				zap.String("contract", contract.Hex()),
				zap.Uint64("from_block", from),
				zap.Uint64("to_block", toBlock),
				zap.Error(err))
			return result
		}

		for _, d := range p.Data {
			for _, b := range d.Blocks {
				result.Timestamps[b.Number] = b.Timestamp
			}
			for _, l := range d.Logs {
				if l.BlockNumber > toBlock {
					continue
				}
				result.Logs = append(result.Logs, l)
			}
		}

		// A zero or stalled cursor means the server has nothing further.
		if p.NextBlock == 0 || p.NextBlock <= from || p.NextBlock > toBlock {
			return result
		}
		from = p.NextBlock
	}
}

func (c *Client) fetchPage(ctx context.Context, contract common.Address, topic common.Hash, fromBlock uint64) (*page, error) {
	q := query{
		Client:    clientInfo{Timeout: uint64(c.client.Timeout.Milliseconds())},
		FromBlock: fromBlock,
		Logs: []logSelection{{
			Address: []string{contract.Hex()},
			Topics:  [][]string{{topic.Hex()}},
		}},
		FieldSelection: fieldSelection{
			Block: []string{"number", "timestamp"},
			Log:   []string{"block_number", "log_index", "transaction_hash", "data", "address", "topic0"},
		},
	}

	var p page
	err := retry.WithBackoff(ctx, c.retryCfg, c.logger, "hypersync query", func() error {
		body, mErr := json.Marshal(q)
		if mErr != nil {
			return mErr
		}
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/query", bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")

		resp, doErr := c.client.Do(req)
		if doErr != nil {
			return doErr
		}
		defer func() { _ = utils.DrainAndClose(resp.Body) }()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("http %d", resp.StatusCode)
		}
		var decoded page
		if decErr := json.NewDecoder(resp.Body).Decode(&decoded); decErr != nil {
			return decErr
		}
		p = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}
