// Package config loads the node's configuration from TOML the way the
// teacher's gxp/config.go and cmd/utils/flags.go layer a file under CLI
// flags (spec.md §6 "Configuration keys"), using github.com/naoina/toml
// (already in the teacher's go.mod) as the parser.
package config

import (
	"encoding/base64"
	"os"

	"github.com/naoina/toml"
	"github.com/pkg/errors"
)

// Genesis mirrors spec.md §6's chain.genesis table: the non-hash fields
// the chain package recomputes the genesis block from, plus the
// configured hash the recomputed block must match (spec.md §4.1).
type Genesis struct {
	PublicKey  string `toml:"public_key"` // base64
	Reward     uint64 `toml:"reward"`
	Difficulty uint32 `toml:"difficulty"`
	Timestamp  int64  `toml:"timestamp"`
	Hash       string `toml:"hash"` // base64
}

// PublicKeyBytes decodes the base64 public_key field.
func (g Genesis) PublicKeyBytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(g.PublicKey)
}

// HashBytes decodes the base64 hash field.
func (g Genesis) HashBytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(g.Hash)
}

// Chain carries the difficulty/reward schedule parameters of spec.md §4.1
// and §6.
type Chain struct {
	Genesis           Genesis `toml:"genesis"`
	BlocksPerEpoch    uint32  `toml:"blocks_per_epoch"`
	SecondsPerBlock   int64   `toml:"seconds_per_block"`
	DefaultTxPerBlock uint64  `toml:"default_tx_per_block"`
}

// BootstrapPeer is one [[net.bootstrap]] entry: an (address, port) pair
// dialed at startup before the event loop starts accepting connections
// (spec.md §12 "Peer bootstrap list", mirroring the original's
// constructor-time bootstrap dial).
type BootstrapPeer struct {
	Address string
	Port    uint16
}

// Net carries the networking parameters of spec.md §6.
type Net struct {
	Address            string          `toml:"address"`
	Port               uint16          `toml:"port"`
	RPCAddress         string          `toml:"rpc_address"`
	RPCPort            uint16          `toml:"rpc_port"`
	InboundPeersLimit  int             `toml:"inbound_peers_limit"`
	OutboundPeersLimit int             `toml:"outbound_peers_limit"`
	Bootstrap          []BootstrapPeer `toml:"bootstrap"`
}

// Config is the top-level configuration document, parsed from config.toml.
type Config struct {
	Chain Chain `toml:"chain"`
	Net   Net   `toml:"net"`
}

// Default mirrors the teacher's DefaultConfig pattern (gxp/config.go):
// reasonable values a fresh node can run with before any config.toml is
// supplied.
var Default = Config{
	Chain: Chain{
		BlocksPerEpoch:    2016,
		SecondsPerBlock:   60,
		DefaultTxPerBlock: 2000,
	},
	Net: Net{
		Address:            "0.0.0.0",
		Port:               9870,
		RPCAddress:         "127.0.0.1",
		RPCPort:            9871,
		InboundPeersLimit:  64,
		OutboundPeersLimit: 8,
	},
}

// Load reads and parses a TOML config file at path, starting from
// Default and overriding whatever the file specifies.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: open %s", path)
	}
	defer f.Close()

	cfg := Default
	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, errors.Wrapf(err, "config: decode %s", path)
	}
	return &cfg, nil
}
