package exchanges

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"chainflow/internal/domain"
)

// Registry holds known exchange deposit/withdrawal addresses per chain.
// Ethereum addresses are case-normalized to lower case; Bitcoin addresses
// are case-sensitive and kept as-is.
type Registry struct {
	eth map[string]string // lowercased address -> exchange name
	btc map[string]string
}

// registryFile is the on-disk JSON shape: chain section -> address -> name.
type registryFile struct {
	Ethereum map[string]string `json:"ethereum"`
	Bitcoin  map[string]string `json:"bitcoin"`
}

// Load reads a registry JSON file. The bitcoin section must be non-empty;
// without it every BTC transfer would classify as non-exchange and the flow
// metrics would silently read zero.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read exchange registry: %w", err)
	}
	return Parse(data)
}

// Parse decodes registry JSON.
func Parse(data []byte) (*Registry, error) {
	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse exchange registry: %w", err)
	}

	if len(file.Bitcoin) == 0 {
		return nil, fmt.Errorf("exchange registry must include a non-empty bitcoin address map")
	}

	r := &Registry{
		eth: make(map[string]string, len(file.Ethereum)),
		btc: make(map[string]string, len(file.Bitcoin)),
	}
	for addr, name := range file.Ethereum {
		r.eth[strings.ToLower(addr)] = name
	}
	for addr, name := range file.Bitcoin {
		r.btc[addr] = name
	}

	return r, nil
}

// Contains reports whether the address belongs to a known exchange on the
// chain. Ethereum lookups are case-insensitive.
func (r *Registry) Contains(chain, addr string) bool {
	switch chain {
	case domain.ChainEth:
		_, ok := r.eth[strings.ToLower(addr)]
		return ok
	case domain.ChainBtc:
		_, ok := r.btc[addr]
		return ok
	default:
		return false
	}
}

// ContainsAny reports whether any of the addresses is a known exchange.
func (r *Registry) ContainsAny(chain string, addrs []string) bool {
	for _, a := range addrs {
		if r.Contains(chain, a) {
			return true
		}
	}
	return false
}

// Size returns the number of registered addresses for a chain.
func (r *Registry) Size(chain string) int {
	switch chain {
	case domain.ChainEth:
		return len(r.eth)
	case domain.ChainBtc:
		return len(r.btc)
	default:
		return 0
	}
}
