// Package orderbook batches a wallet's unclaimed holdings into one
// takeOrders transaction against the order-book contract, simulating
// before submission so reverts surface pre-flight.
package orderbook

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/S01-Issuer/claims-engine/pkg/claims"
)

var (
	// ErrNoHoldings means a claim submission was attempted with nothing
	// to claim. User-facing validation, not retried.
	ErrNoHoldings = errors.New("orderbook: no unclaimed holdings")
	// ErrOrderbookMismatch means the holdings disagree on which
	// order-book contract they settle against, which is a configuration
	// error.
	ErrOrderbookMismatch = errors.New("orderbook: holdings disagree on order-book address")
)

// ChainBackend is the slice of an Ethereum client the assembler needs.
// *ethclient.Client satisfies it.
type ChainBackend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	ChainID(ctx context.Context) (*big.Int, error)
}

// TxSigner signs submission transactions. claims.LocalSigner satisfies it.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// The engine treats each on-chain order as an opaque ABI blob published
// with its batch; only the surrounding takeOrders envelope is typed here.
const takeOrdersABI = `[{"name":"takeOrders","type":"function","stateMutability":"nonpayable","inputs":[{"name":"config","type":"tuple","components":[{"name":"minimumInput","type":"uint256"},{"name":"maximumInput","type":"uint256"},{"name":"maximumIORatio","type":"uint256"},{"name":"orders","type":"tuple[]","components":[{"name":"order","type":"bytes"},{"name":"inputIOIndex","type":"uint256"},{"name":"outputIOIndex","type":"uint256"},{"name":"signedContext","type":"tuple[]","components":[{"name":"signer","type":"address"},{"name":"context","type":"uint256[]"},{"name":"signature","type":"bytes"}]}]},{"name":"data","type":"bytes"}]}],"outputs":[{"name":"totalInput","type":"uint256"},{"name":"totalOutput","type":"uint256"}]}]`

type signedContext struct {
	Signer    common.Address
	Context   []*big.Int
	Signature []byte
}

type takeOrder struct {
	Order         []byte
	InputIOIndex  *big.Int
	OutputIOIndex *big.Int
	SignedContext []signedContext
}

type takeOrdersConfig struct {
	MinimumInput   *big.Int
	MaximumInput   *big.Int
	MaximumIORatio *big.Int
	Orders         []takeOrder
	Data           []byte
}

// Assembler builds and submits claim-all transactions.
type Assembler struct {
	backend ChainBackend
	signer  TxSigner
	logger  *zap.Logger
	parsed  abi.ABI
}

// New creates an assembler bound to a chain backend and submission signer.
func New(backend ChainBackend, signer TxSigner, logger *zap.Logger) (*Assembler, error) {
	parsed, err := abi.JSON(strings.NewReader(takeOrdersABI))
	if err != nil {
		return nil, fmt.Errorf("orderbook: parse ABI: %w", err)
	}
	return &Assembler{backend: backend, signer: signer, logger: logger, parsed: parsed}, nil
}

// ClaimAll flattens every unclaimed holding across the groups into a
// single takeOrders call, simulates it, and submits it. The batch is
// atomic by contract semantics: either every order in it settles or the
// transaction reverts.
func (a *Assembler) ClaimAll(ctx context.Context, groups []claims.HoldingsGroup) (*types.Transaction, error) {
	contract, orders, err := flatten(groups)
	if err != nil {
		return nil, err
	}

	cfg := takeOrdersConfig{
		MinimumInput:   new(big.Int),
		MaximumInput:   new(big.Int).Set(abi.MaxUint256),
		MaximumIORatio: new(big.Int).Set(abi.MaxUint256),
		Orders:         orders,
		Data:           []byte{},
	}
	calldata, err := a.parsed.Pack("takeOrders", cfg)
	if err != nil {
		return nil, fmt.Errorf("orderbook: pack takeOrders: %w", err)
	}

	from := a.signer.Address()
	call := ethereum.CallMsg{From: from, To: &contract, Data: calldata}

	// Simulate first so a revert reason surfaces before anything is sent.
	if _, err := a.backend.CallContract(ctx, call, nil); err != nil {
		return nil, fmt.Errorf("orderbook: simulation reverted, nothing submitted: %w", err)
	}

	nonce, err := a.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("orderbook: nonce: %w", err)
	}
	gasPrice, err := a.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("orderbook: gas price: %w", err)
	}
	gasLimit, err := a.backend.EstimateGas(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("orderbook: gas estimate: %w", err)
	}
	chainID, err := a.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("orderbook: chain id: %w", err)
	}

	tx := types.NewTransaction(nonce, contract, new(big.Int), gasLimit, gasPrice, calldata)
	signed, err := a.signer.SignTx(tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("orderbook: sign transaction: %w", err)
	}
	if err := a.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("orderbook: submit: %w", err)
	}

	a.logger.Info("Submitted claim-all transaction",
		zap.String("tx", signed.Hash().Hex()),
		zap.String("orderbook", contract.Hex()),
		zap.Int("orders", len(orders)))
	return signed, nil
}

// flatten collects every unclaimed holding into the order list and
// resolves the one order-book address the batch settles against.
func flatten(groups []claims.HoldingsGroup) (common.Address, []takeOrder, error) {
	var contract common.Address
	var orders []takeOrder

	for _, group := range groups {
		for _, holding := range group.Unclaimed {
			if len(orders) == 0 {
				contract = holding.Orderbook
			} else if holding.Orderbook != contract {
				return common.Address{}, nil, fmt.Errorf("%w: %s vs %s",
					ErrOrderbookMismatch, contract.Hex(), holding.Orderbook.Hex())
			}

			orderBlob, err := hexutil.Decode(holding.OrderID)
			if err != nil {
				return common.Address{}, nil, fmt.Errorf("orderbook: order blob for index %d: %w", holding.Index, err)
			}
			orders = append(orders, takeOrder{
				Order:         orderBlob,
				InputIOIndex:  new(big.Int),
				OutputIOIndex: new(big.Int),
				SignedContext: []signedContext{{
					Signer:    holding.Auth.Signer,
					Context:   contextInts(holding.Auth.Context),
					Signature: holding.Auth.Signature,
				}},
			})
		}
	}
	if len(orders) == 0 {
		return common.Address{}, nil, ErrNoHoldings
	}
	return contract, orders, nil
}

func contextInts(words []common.Hash) []*big.Int {
	out := make([]*big.Int, len(words))
	for i, w := range words {
		out[i] = new(big.Int).SetBytes(w[:])
	}
	return out
}
