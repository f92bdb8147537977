package merkle_test

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S01-Issuer/claims-engine/pkg/ledger"
	"github.com/S01-Issuer/claims-engine/pkg/merkle"
)

func testRows(n int) []ledger.Row {
	rows := make([]ledger.Row, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, ledger.Row{
			Index:   uint64(i),
			Address: common.HexToAddress(fmt.Sprintf("0x%040x", i+1)),
			Amount:  big.NewInt(int64((i + 1) * 1000)),
		})
	}
	return rows
}

// TestProofRoundTrip verifies every row's proof against the root, for tree
// sizes covering single-leaf, power-of-two and odd-layer shapes.
func TestProofRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 7, 8, 33} {
		t.Run(fmt.Sprintf("%d_rows", n), func(t *testing.T) {
			rows := testRows(n)
			tree, err := merkle.New(rows)
			require.NoError(t, err)

			root := tree.Root()
			for _, row := range rows {
				proof, proveErr := tree.Prove(merkle.LeafHash(row))
				require.NoError(t, proveErr)
				assert.True(t, merkle.Verify(root, proof), "row %d proof must verify", row.Index)
			}
		})
	}
}

func TestLeafHashDeterministic(t *testing.T) {
	row := ledger.Row{
		Index:   7,
		Address: common.HexToAddress("0xf836a500910453A397084ADe41321ee20a5AAde1"),
		Amount:  big.NewInt(123456),
	}
	assert.Equal(t, merkle.LeafHash(row), merkle.LeafHash(row))

	// Any component change moves the leaf.
	changed := row
	changed.Amount = big.NewInt(123457)
	assert.NotEqual(t, merkle.LeafHash(row), merkle.LeafHash(changed))
}

// TestTamperDetection mutates one row after root computation; the
// recomputed root must differ.
func TestTamperDetection(t *testing.T) {
	rows := testRows(6)
	tree, err := merkle.New(rows)
	require.NoError(t, err)
	original := tree.Root()

	rows[3].Amount = new(big.Int).Add(rows[3].Amount, big.NewInt(1))
	tampered, err := merkle.New(rows)
	require.NoError(t, err)
	assert.NotEqual(t, original, tampered.Root())
}

func TestDuplicateIndexRejected(t *testing.T) {
	rows := testRows(4)
	rows[2].Index = rows[0].Index

	_, err := merkle.New(rows)
	require.ErrorIs(t, err, merkle.ErrDuplicateIndex)
}

func TestEmptyLedgerRejected(t *testing.T) {
	_, err := merkle.New(nil)
	require.ErrorIs(t, err, merkle.ErrEmptyLedger)
}

func TestProveUnknownLeaf(t *testing.T) {
	tree, err := merkle.New(testRows(4))
	require.NoError(t, err)

	outsider := ledger.Row{Index: 99, Address: common.HexToAddress("0x1"), Amount: big.NewInt(1)}
	_, err = tree.Prove(merkle.LeafHash(outsider))
	require.ErrorIs(t, err, merkle.ErrLeafNotFound)
}

func TestVerifyRejectsWrongRoot(t *testing.T) {
	rows := testRows(5)
	tree, err := merkle.New(rows)
	require.NoError(t, err)

	proof, err := tree.Prove(merkle.LeafHash(rows[0]))
	require.NoError(t, err)

	var wrong common.Hash
	wrong[0] = 0xff
	assert.False(t, merkle.Verify(wrong, proof))
}
