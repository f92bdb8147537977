package claims

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Signer is the message-signing capability behind every
// SignedAuthorization. It is injected at construction: the engine never
// synthesizes keypairs per call, since a signature from a key unrelated to
// the configured claimant is rejected by the on-chain verifier.
type Signer interface {
	Address() common.Address
	Sign(digest common.Hash) ([]byte, error)
}

// LocalSigner signs with a secp256k1 key held in memory, loaded once from
// configuration.
type LocalSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewLocalSigner parses a hex-encoded private key.
func NewLocalSigner(hexKey string) (*LocalSigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("claims: parse signing key: %w", err)
	}
	return &LocalSigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the signer's account address.
func (s *LocalSigner) Address() common.Address {
	return s.addr
}

// Sign produces a 65-byte [R || S || V] signature over the digest.
func (s *LocalSigner) Sign(digest common.Hash) ([]byte, error) {
	return crypto.Sign(digest[:], s.key)
}

// SignTx signs an on-chain transaction with the same key, so claim
// submissions are authorized by the account whose signatures the contract
// expects in the signed contexts.
func (s *LocalSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// SignedAuthorization is the proof-of-authorization the on-chain contract
// requires alongside a Merkle proof: the ordered context words (leaf
// components followed by the sibling path, as unsigned 256-bit integers),
// signed by the claimant.
type SignedAuthorization struct {
	Signer    common.Address `json:"signer"`
	Context   []common.Hash  `json:"context"`
	Signature []byte         `json:"signature"`
}

// contextDigest hashes the concatenated big-endian 32-byte words, matching
// the contract's signed-context derivation.
func contextDigest(words []common.Hash) common.Hash {
	buf := make([]byte, 0, len(words)*32)
	for _, w := range words {
		buf = append(buf, w[:]...)
	}
	return crypto.Keccak256Hash(buf)
}

// word packs an unsigned value into its 32-byte big-endian representation.
func word(v *uint256.Int) common.Hash {
	return common.Hash(v.Bytes32())
}
