// Package merkle builds the claims accumulator: a binary Merkle tree over
// payout ledger rows whose leaf derivation matches the on-chain verifier
// byte for byte. Any drift in the leaf formula makes every proof fail
// on-chain, silently.
package merkle

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/S01-Issuer/claims-engine/pkg/ledger"
)

var (
	ErrEmptyLedger    = errors.New("merkle: empty ledger")
	ErrDuplicateIndex = errors.New("merkle: duplicate ledger index")
	ErrLeafNotFound   = errors.New("merkle: leaf not in tree")
)

// Proof is the inclusion proof for one leaf: the leaf value, its position
// in the leaf layer, and the ordered sibling path up to the root. Interior
// nodes hash sorted pairs, so verification needs no left/right directions.
type Proof struct {
	Leaf     common.Hash
	Index    int
	Siblings []common.Hash
}

// Tree is a deterministic binary Merkle accumulator over ledger rows.
// Interior nodes are keccak256 of the sorted concatenation of their
// children; an odd node at any layer is promoted unchanged.
type Tree struct {
	layers    [][]common.Hash
	positions map[common.Hash]int
}

// LeafHash derives a row's leaf: keccak256 of the big-endian 32-byte words
// [index, address, amount], hashed once. The amount is the raw ledger
// amount, not re-scaled. This is the exact packing the on-chain verifier
// recomputes.
func LeafHash(row ledger.Row) common.Hash {
	var buf [96]byte

	ix := uint256.NewInt(row.Index).Bytes32()
	copy(buf[0:32], ix[:])

	ad := new(uint256.Int).SetBytes(row.Address.Bytes()).Bytes32()
	copy(buf[32:64], ad[:])

	am := new(uint256.Int)
	am.SetFromBig(row.Amount)
	amb := am.Bytes32()
	copy(buf[64:96], amb[:])

	return crypto.Keccak256Hash(buf[:])
}

// New builds the accumulator over the given rows. Rows must have unique
// indices and 256-bit-representable amounts; both are configuration bugs
// in the published ledger, not runtime conditions to tolerate.
func New(rows []ledger.Row) (*Tree, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyLedger
	}

	seen := make(map[uint64]bool, len(rows))
	leaves := make([]common.Hash, 0, len(rows))
	positions := make(map[common.Hash]int, len(rows))
	for _, row := range rows {
		if seen[row.Index] {
			return nil, fmt.Errorf("%w: index %d", ErrDuplicateIndex, row.Index)
		}
		seen[row.Index] = true
		if row.Amount != nil && row.Amount.BitLen() > 256 {
			return nil, fmt.Errorf("merkle: amount for index %d exceeds 256 bits", row.Index)
		}
		leaf := LeafHash(row)
		positions[leaf] = len(leaves)
		leaves = append(leaves, leaf)
	}

	layers := [][]common.Hash{leaves}
	for level := leaves; len(level) > 1; {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, hashPair(level[i], level[i+1]))
		}
		layers = append(layers, next)
		level = next
	}

	return &Tree{layers: layers, positions: positions}, nil
}

// Root returns the accumulator root.
func (t *Tree) Root() common.Hash {
	top := t.layers[len(t.layers)-1]
	return top[0]
}

// Prove returns the inclusion proof for a leaf value previously derived via
// LeafHash. An unknown leaf is an internal invariant violation, since every
// proof request is for a row the tree was built from.
func (t *Tree) Prove(leaf common.Hash) (Proof, error) {
	pos, ok := t.positions[leaf]
	if !ok {
		return Proof{}, ErrLeafNotFound
	}

	proof := Proof{Leaf: leaf, Index: pos}
	idx := pos
	for _, level := range t.layers[:len(t.layers)-1] {
		sibling := idx ^ 1
		if sibling < len(level) {
			proof.Siblings = append(proof.Siblings, level[sibling])
		}
		idx >>= 1
	}
	return proof, nil
}

// Verify recomputes the root from a proof and compares it to the expected
// root.
func Verify(root common.Hash, proof Proof) bool {
	node := proof.Leaf
	for _, sibling := range proof.Siblings {
		node = hashPair(node, sibling)
	}
	return node == root
}

func hashPair(a, b common.Hash) common.Hash {
	if bytesLess(b, a) {
		a, b = b, a
	}
	return crypto.Keccak256Hash(a[:], b[:])
}

func bytesLess(a, b common.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
