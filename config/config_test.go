package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"alephccn/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ccnd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
chains:
  - chain: ETH
    rpc_endpoint: https://eth.example/rpc
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Store.Driver)
	require.Equal(t, 8, cfg.Pending.Workers)
	require.Equal(t, 10*time.Second, cfg.Chains[0].PollInterval.Duration)
	require.Equal(t, "item_hash", cfg.Pending.AggregateTiebreak)
	require.Equal(t, time.Hour, cfg.Pending.StoreGraceTemp.Duration)
	require.Equal(t, 24*time.Hour, cfg.Pending.StoreGraceNormal.Duration)
}

func TestLoadRejectsNoChains(t *testing.T) {
	path := writeConfig(t, `store:
  driver: sqlite
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadDriver(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: oracle
chains:
  - chain: ETH
    rpc_endpoint: https://eth.example/rpc
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestDurationUnmarshalRoundTrip(t *testing.T) {
	path := writeConfig(t, `
chains:
  - chain: ETH
    rpc_endpoint: https://eth.example/rpc
    poll_interval: 2500ms
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 2500*time.Millisecond, cfg.Chains[0].PollInterval.Duration)
}
