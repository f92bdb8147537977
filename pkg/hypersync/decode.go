package hypersync

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Event is one claim-settlement log decoded into typed fields. Timestamp is
// nil when the containing block header was not part of the page.
type Event struct {
	Index       uint64
	Address     common.Address
	Amount      *big.Int
	TxHash      common.Hash
	BlockNumber uint64
	Timestamp   *time.Time
}

// Settlement log payloads are ABI-encoded (address, uint256 amount,
// uint256 index), fixed by the contract.
var claimEventArgs abi.Arguments

func init() {
	addressTy, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	claimEventArgs = abi.Arguments{
		{Name: "address", Type: addressTy},
		{Name: "amount", Type: uint256Ty},
		{Name: "index", Type: uint256Ty},
	}
}

// DecodeEvents decodes a page of raw logs into settlement events. Logs that
// decode to the zero address are discarded: the contract emits them as a
// placeholder, not as a real claim. A log that fails to decode is returned
// as an error for the whole page, since a half-decoded snapshot would make
// the claimed/unclaimed partition inconsistent.
func DecodeEvents(p LogPage) ([]Event, error) {
	events := make([]Event, 0, len(p.Logs))
	for _, raw := range p.Logs {
		ev, ok, err := decodeLog(raw)
		if err != nil {
			return nil, fmt.Errorf("hypersync: decode log %s[%d]: %w", raw.TransactionHash, raw.LogIndex, err)
		}
		if !ok {
			continue
		}
		if ts, found := p.Timestamps[raw.BlockNumber]; found {
			t := time.Unix(int64(ts), 0).UTC()
			ev.Timestamp = &t
		}
		events = append(events, ev)
	}
	return events, nil
}

func decodeLog(raw RawLog) (Event, bool, error) {
	data, err := hexutil.Decode(raw.Data)
	if err != nil {
		return Event{}, false, err
	}
	values, err := claimEventArgs.Unpack(data)
	if err != nil {
		return Event{}, false, err
	}

	addr, ok := values[0].(common.Address)
	if !ok {
		return Event{}, false, fmt.Errorf("unexpected address type %T", values[0])
	}
	if addr == (common.Address{}) {
		return Event{}, false, nil
	}
	amount, ok := values[1].(*big.Int)
	if !ok {
		return Event{}, false, fmt.Errorf("unexpected amount type %T", values[1])
	}
	index, ok := values[2].(*big.Int)
	if !ok {
		return Event{}, false, fmt.Errorf("unexpected index type %T", values[2])
	}

	return Event{
		Index:       index.Uint64(),
		Address:     addr,
		Amount:      amount,
		TxHash:      common.HexToHash(raw.TransactionHash),
		BlockNumber: raw.BlockNumber,
	}, true, nil
}
