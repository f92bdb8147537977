package claims

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/S01-Issuer/claims-engine/pkg/merkle"
)

// DisplayDecimals is the fixed-point scale of royalty token amounts.
const DisplayDecimals = 18

// Display converts a raw smallest-unit amount to its human scale. This is
// the only place amounts leave integer arithmetic; internal totals stay
// exact.
func Display(raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -DisplayDecimals)
}

// UnclaimedHolding is one payout a wallet has not yet claimed, carrying
// everything the on-chain submission needs.
type UnclaimedHolding struct {
	Index     uint64              `json:"index"`
	Amount    *big.Int            `json:"amount"`
	OrderID   string              `json:"orderId"`
	Orderbook common.Address      `json:"orderbook"`
	Proof     merkle.Proof        `json:"proof"`
	Auth      SignedAuthorization `json:"auth"`
	GroupName string              `json:"groupName"`
}

// HoldingsGroup aggregates a wallet's unclaimed payouts for one token,
// merged across historical batches.
type HoldingsGroup struct {
	TokenAddress common.Address     `json:"tokenAddress"`
	GroupName    string             `json:"groupName"`
	Unclaimed    []UnclaimedHolding `json:"unclaimed"`
	TotalAmount  *big.Int           `json:"totalAmount"`
	TotalDisplay decimal.Decimal    `json:"totalDisplay"`
}

// HistoryEntry is one completed claim.
type HistoryEntry struct {
	TokenAddress  common.Address  `json:"tokenAddress"`
	GroupName     string          `json:"groupName"`
	Amount        *big.Int        `json:"amount"`
	AmountDisplay decimal.Decimal `json:"amountDisplay"`
	TxHash        common.Hash     `json:"txHash"`
	Date          *time.Time      `json:"date,omitempty"`
	Status        string          `json:"status"`
}

// Totals are exact integer sums with display-scaled companions.
// Earned = Claimed + Unclaimed always holds.
type Totals struct {
	Earned           *big.Int        `json:"earned"`
	Claimed          *big.Int        `json:"claimed"`
	Unclaimed        *big.Int        `json:"unclaimed"`
	EarnedDisplay    decimal.Decimal `json:"earnedDisplay"`
	ClaimedDisplay   decimal.Decimal `json:"claimedDisplay"`
	UnclaimedDisplay decimal.Decimal `json:"unclaimedDisplay"`
}

// AggregatedResult is the per-wallet view across every configured claim
// source. HasPartialData means at least one source failed and its rows are
// missing; everything present is still trustworthy.
type AggregatedResult struct {
	Wallet         common.Address  `json:"wallet"`
	Holdings       []HoldingsGroup `json:"holdings"`
	History        []HistoryEntry  `json:"history"`
	Totals         Totals          `json:"totals"`
	HasPartialData bool            `json:"hasPartialData"`
	LoadedAt       time.Time       `json:"loadedAt"`
}

func newTotals() Totals {
	return Totals{Earned: new(big.Int), Claimed: new(big.Int), Unclaimed: new(big.Int)}
}

func (t *Totals) finishDisplay() {
	t.EarnedDisplay = Display(t.Earned)
	t.ClaimedDisplay = Display(t.Claimed)
	t.UnclaimedDisplay = Display(t.Unclaimed)
}
