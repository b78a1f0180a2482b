package config

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	f, err := ioutil.TempFile("", "fhenode-config-*.toml")
	require.NoError(t, err)
	_, err = f.WriteString(contents)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
[chain]
blocks_per_epoch = 10
seconds_per_block = 5
default_tx_per_block = 100

[chain.genesis]
public_key = "AAAA"
reward = 1000
difficulty = 1
timestamp = 0
hash = "AAAA"

[net]
address = "127.0.0.1"
port = 1234
rpc_address = "127.0.0.1"
rpc_port = 1235
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint32(10), cfg.Chain.BlocksPerEpoch)
	require.Equal(t, uint64(100), cfg.Chain.DefaultTxPerBlock)
	require.Equal(t, uint16(1234), cfg.Net.Port)
	// Fields absent from the file fall back to Default's values.
	require.Equal(t, Default.Net.InboundPeersLimit, cfg.Net.InboundPeersLimit)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.toml")
	require.Error(t, err)
}

func TestGenesisPublicKeyBytesDecodesBase64(t *testing.T) {
	g := Genesis{PublicKey: "AQID"} // base64("\x01\x02\x03")
	b, err := g.PublicKeyBytes()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, b)
}

func TestGenesisHashBytesRejectsInvalidBase64(t *testing.T) {
	g := Genesis{Hash: "not-base64!!"}
	_, err := g.HashBytes()
	require.Error(t, err)
}
