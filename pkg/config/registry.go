// Package config holds the static claims registry: which energy fields
// exist, which royalty tokens belong to them, and which historical payout
// batches each token has. The registry is read-only at runtime.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"
)

// ClaimSource identifies one historical payout batch for one token. The
// expected root and content hash anchor the off-chain ledger to on-chain
// state; OrderID ties the batch to its on-chain order.
type ClaimSource struct {
	ContentLink         string `yaml:"content_link"`
	ExpectedContentHash string `yaml:"expected_content_hash"`
	ExpectedMerkleRoot  string `yaml:"expected_merkle_root"`
	OrderID             string `yaml:"order_id"`

	// Filled in during Load from the enclosing group and token.
	GroupName    string         `yaml:"-"`
	TokenAddress common.Address `yaml:"-"`
}

// Root parses the expected Merkle root. Hex case does not matter; an empty
// value resolves to the unset sentinel, which downstream validation treats
// as "not yet anchored". Anything else is guaranteed well-formed 32-byte
// hex by Parse, so a typo in a root fails at load time instead of silently
// widening the sentinel bypass.
func (s ClaimSource) Root() common.Hash {
	v := strings.TrimSpace(s.ExpectedMerkleRoot)
	if v == "" {
		return common.Hash{}
	}
	return common.HexToHash(v)
}

// Token is one royalty token within an energy field.
type Token struct {
	Address string        `yaml:"address"`
	Name    string        `yaml:"name"`
	Sources []ClaimSource `yaml:"claim_sources"`
}

// AssetGroup is one energy field and its tokens.
type AssetGroup struct {
	Name   string  `yaml:"name"`
	Tokens []Token `yaml:"tokens"`
}

// Network carries the chain-facing constants shared by every claim source.
type Network struct {
	OrderbookAddress string `yaml:"orderbook_address"`
	SettlementTopic  string `yaml:"settlement_topic"`
	IndexerEndpoint  string `yaml:"indexer_endpoint"`
	ChainRPC         string `yaml:"chain_rpc"`
}

// Registry is the full static configuration surface.
type Registry struct {
	Network Network      `yaml:"network"`
	Groups  []AssetGroup `yaml:"asset_groups"`
}

// Load reads and validates a registry YAML file.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse validates registry YAML bytes.
func Parse(raw []byte) (*Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal(raw, &reg); err != nil {
		return nil, fmt.Errorf("config: parse registry: %w", err)
	}

	if !common.IsHexAddress(reg.Network.OrderbookAddress) {
		return nil, fmt.Errorf("config: invalid orderbook address %q", reg.Network.OrderbookAddress)
	}
	if reg.Network.SettlementTopic == "" {
		return nil, fmt.Errorf("config: settlement topic is required")
	}
	if reg.Network.IndexerEndpoint == "" {
		return nil, fmt.Errorf("config: indexer endpoint is required")
	}

	for gi := range reg.Groups {
		group := &reg.Groups[gi]
		if group.Name == "" {
			return nil, fmt.Errorf("config: asset group %d has no name", gi)
		}
		for ti := range group.Tokens {
			token := &group.Tokens[ti]
			if !common.IsHexAddress(token.Address) {
				return nil, fmt.Errorf("config: group %q token %d: invalid address %q", group.Name, ti, token.Address)
			}
			addr := common.HexToAddress(token.Address)
			for si := range token.Sources {
				src := &token.Sources[si]
				if src.ContentLink == "" {
					return nil, fmt.Errorf("config: group %q token %s: source %d has no content link", group.Name, addr, si)
				}
				if src.ExpectedContentHash == "" {
					return nil, fmt.Errorf("config: group %q token %s: source %d has no content hash", group.Name, addr, si)
				}
				if root := strings.TrimSpace(src.ExpectedMerkleRoot); root != "" {
					b, rootErr := hexutil.Decode(root)
					if rootErr != nil || len(b) != common.HashLength {
						return nil, fmt.Errorf("config: group %q token %s: source %d has malformed merkle root %q", group.Name, addr, si, root)
					}
				}
				src.GroupName = group.Name
				src.TokenAddress = addr
			}
		}
	}
	return &reg, nil
}

// Orderbook returns the parsed order-book contract address.
func (r *Registry) Orderbook() common.Address {
	return common.HexToAddress(r.Network.OrderbookAddress)
}

// Topic returns the parsed settlement event topic.
func (r *Registry) Topic() common.Hash {
	return common.HexToHash(r.Network.SettlementTopic)
}

// AllSources flattens every claim source across groups and tokens.
func (r *Registry) AllSources() []ClaimSource {
	var out []ClaimSource
	for _, group := range r.Groups {
		for _, token := range group.Tokens {
			out = append(out, token.Sources...)
		}
	}
	return out
}
