package cas

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/S01-Issuer/claims-engine/pkg/ledger"
	"github.com/S01-Issuer/claims-engine/pkg/merkle"
	"github.com/S01-Issuer/claims-engine/pkg/utils"
)

var (
	// ErrContentIntegrity means the link's content identifier does not
	// match the identifier the batch was published under.
	ErrContentIntegrity = errors.New("cas: content identifier mismatch")
	// ErrFetch is a network or HTTP failure retrieving the content.
	ErrFetch = errors.New("cas: fetch failed")
	// ErrAccumulatorMismatch means the ledger's locally computed Merkle
	// root does not match the root anchored on-chain.
	ErrAccumulatorMismatch = errors.New("cas: accumulator root mismatch")
)

// UnsetRoot is the all-zero sentinel for batches whose root has not been
// anchored on-chain yet. Validation against it is bypassed.
var UnsetRoot = common.Hash{}

// Validate fetches a ledger from content-addressed storage and verifies it
// two ways before returning rows anyone may act on:
//
//  1. the link's last path segment (its self-describing content
//     identifier) must equal expectedHash byte for byte, and
//  2. the Merkle root computed over the parsed rows must equal
//     expectedRoot, unless expectedRoot is the unset sentinel, in which
//     case the rows are returned unvalidated.
//
// Validate does not cache; ledger memoization belongs to the caller.
func (c *Client) Validate(ctx context.Context, link string, expectedHash string, expectedRoot common.Hash) ([]ledger.Row, error) {
	cid := utils.LastPathSegment(link)
	if cid != expectedHash {
		return nil, fmt.Errorf("%w: link carries %q, expected %q", ErrContentIntegrity, cid, expectedHash)
	}

	body, err := c.Fetch(ctx, link)
	if err != nil {
		return nil, err
	}

	rows := ledger.Parse(string(body))

	if expectedRoot == UnsetRoot {
		c.logger.Debug("Accumulator root unset, skipping root validation",
			zap.String("cid", cid),
			zap.Int("rows", len(rows)))
		return rows, nil
	}

	tree, err := merkle.New(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccumulatorMismatch, err)
	}
	if root := tree.Root(); root != expectedRoot {
		return nil, fmt.Errorf("%w: computed %s, expected %s", ErrAccumulatorMismatch, root, expectedRoot)
	}
	return rows, nil
}
