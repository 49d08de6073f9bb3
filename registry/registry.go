// Package registry maps chain ids onto the protocol's deployed contract addresses.
package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	"github.com/celer-network/go-dsu/log"
	"github.com/celer-network/go-dsu/types"
)

//go:embed chains.yaml
var embeddedTable []byte

var (
	ErrNoDefault      = errors.New("default chain has no complete deployment")
	ErrDuplicateChain = errors.New("chain listed twice")
	ErrBadAddress     = errors.New("malformed contract address")
)

var logger = log.NewLogger("registry")

// Entry is one chain of the YAML table. Empty addresses mean "not deployed".
type Entry struct {
	ID      uint64 `yaml:"id"`
	Name    string `yaml:"name"`
	Token   string `yaml:"token"`
	Vault   string `yaml:"vault"`
	Minting string `yaml:"minting"`
}

// Table is the static chain configuration.
type Table struct {
	Default uint64  `yaml:"default"`
	Chains  []Entry `yaml:"chains"`
}

// Registry is an immutable chain id -> contracts lookup.
type Registry struct {
	defaultID uint64
	names     map[uint64]string
	contracts map[uint64]types.ChainContracts
}

// Parse decodes a YAML chain table.
func Parse(data []byte) (*Table, error) {
	var table Table
	if err := yaml.UnmarshalStrict(data, &table); err != nil {
		return nil, fmt.Errorf("parse chain table: %w", err)
	}
	return &table, nil
}

// Load parses and builds a registry in one step.
func Load(data []byte) (*Registry, error) {
	table, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return New(table)
}

// Default returns the registry built from the embedded table.
func Default() *Registry {
	r, err := Load(embeddedTable)
	if err != nil {
		panic(err)
	}
	return r
}

// New builds a registry. Entries without a token or vault address are skipped,
// so those chains resolve to the default like any unknown chain. The default
// chain itself must be complete.
func New(table *Table) (*Registry, error) {
	r := &Registry{
		defaultID: table.Default,
		names:     make(map[uint64]string),
		contracts: make(map[uint64]types.ChainContracts),
	}
	seen := make(map[uint64]bool)
	for _, entry := range table.Chains {
		if seen[entry.ID] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateChain, entry.ID)
		}
		seen[entry.ID] = true

		contracts, err := entry.contracts()
		if err != nil {
			return nil, err
		}
		if !contracts.Complete() {
			logger.Debug().Uint64("chainId", entry.ID).Str("name", entry.Name).Msg("Skipping chain without a deployment")
			continue
		}
		r.names[entry.ID] = entry.Name
		r.contracts[entry.ID] = contracts
	}
	if _, ok := r.contracts[r.defaultID]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoDefault, r.defaultID)
	}
	return r, nil
}

func (e Entry) contracts() (types.ChainContracts, error) {
	token, err := parseAddress(e.ID, "token", e.Token)
	if err != nil {
		return types.ChainContracts{}, err
	}
	vault, err := parseAddress(e.ID, "vault", e.Vault)
	if err != nil {
		return types.ChainContracts{}, err
	}
	minting, err := parseAddress(e.ID, "minting", e.Minting)
	if err != nil {
		return types.ChainContracts{}, err
	}
	return types.ChainContracts{Token: token, Vault: vault, Minting: minting}, nil
}

func parseAddress(chainID uint64, field, hex string) (common.Address, error) {
	if hex == "" || hex == "0x" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(hex) {
		return common.Address{}, fmt.Errorf("%w: chain %d %s %q", ErrBadAddress, chainID, field, hex)
	}
	return common.HexToAddress(hex), nil
}

// AddressesFor never fails: an unsupported chain resolves to the default
// chain's contracts. Use IsSupported to detect an unsupported network.
func (r *Registry) AddressesFor(chainID uint64) types.ChainContracts {
	if contracts, ok := r.contracts[chainID]; ok {
		return contracts
	}
	return r.contracts[r.defaultID]
}

// IsSupported reports whether chainID has its own deployment.
func (r *Registry) IsSupported(chainID uint64) bool {
	_, ok := r.contracts[chainID]
	return ok
}

func (r *Registry) DefaultChainID() uint64 {
	return r.defaultID
}

// Name returns the configured network name, or "" for unsupported chains.
func (r *Registry) Name(chainID uint64) string {
	return r.names[chainID]
}

// ChainIDs lists the supported chains in ascending order.
func (r *Registry) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(r.contracts))
	for id := range r.contracts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// WithOverrides returns a copy with the given addresses merged in. Non-zero
// override fields replace the table's; a chain that becomes complete is added.
func (r *Registry) WithOverrides(overrides map[uint64]types.ChainContracts) *Registry {
	out := &Registry{
		defaultID: r.defaultID,
		names:     make(map[uint64]string, len(r.names)),
		contracts: make(map[uint64]types.ChainContracts, len(r.contracts)+len(overrides)),
	}
	for id, name := range r.names {
		out.names[id] = name
	}
	for id, c := range r.contracts {
		out.contracts[id] = c
	}
	for id, o := range overrides {
		merged := out.contracts[id]
		if o.Token != (common.Address{}) {
			merged.Token = o.Token
		}
		if o.Vault != (common.Address{}) {
			merged.Vault = o.Vault
		}
		if o.Minting != (common.Address{}) {
			merged.Minting = o.Minting
		}
		if !merged.Complete() {
			logger.Warn().Uint64("chainId", id).Msg("Ignoring incomplete contract override")
			continue
		}
		out.contracts[id] = merged
	}
	return out
}

// Table renders the registry back into its YAML form.
func (r *Registry) Table() *Table {
	table := &Table{Default: r.defaultID}
	for _, id := range r.ChainIDs() {
		c := r.contracts[id]
		entry := Entry{
			ID:    id,
			Name:  r.names[id],
			Token: c.Token.Hex(),
			Vault: c.Vault.Hex(),
		}
		if c.Minting != (common.Address{}) {
			entry.Minting = c.Minting.Hex()
		}
		table.Chains = append(table.Chains, entry)
	}
	return table
}

// Marshal encodes the table as YAML.
func (t *Table) Marshal() ([]byte, error) {
	return yaml.Marshal(t)
}
