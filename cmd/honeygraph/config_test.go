// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "localhost:9080", cfg.Graph.Endpoint)
	assert.Equal(t, "spkccT_", cfg.Network)
	assert.Equal(t, "localhost:3008", cfg.API.Addr)
	assert.True(t, cfg.API.Metrics)
	assert.Equal(t, 100, cfg.Snapshot.MaxSnapshots)
	assert.Equal(t, Duration(0), cfg.Snapshot.AutoInterval)
	assert.Equal(t, Duration(2*time.Hour), cfg.Worker.DedupWindow)
	assert.Equal(t, uint64(1000), cfg.Fork.RetentionBlocks)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
graph:
  endpoint: alpha:9080
network: dlux_
api:
  addr: 0.0.0.0:3008
  metrics: false
auth:
  accounts: [validator-a]
  keys:
    validator-a:
      - 02c3afb3a9e5e2d0e2a4c7b3e3a3b1c0d9e8f7a6b5c4d3e2f1a0b9c8d7e6f5a4b3
snapshot:
  dataset: tank/dgraph
  maxSnapshots: 24
  autoInterval: 15m
worker:
  dedupWindow: 30m
fork:
  retentionBlocks: 2000
`), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "alpha:9080", cfg.Graph.Endpoint)
	assert.Equal(t, "dlux_", cfg.Network)
	assert.False(t, cfg.API.Metrics)
	// untouched fields keep their defaults
	assert.Equal(t, "*", cfg.API.CORS)
	assert.Equal(t, []string{"validator-a"}, cfg.Auth.Accounts)
	assert.Len(t, cfg.Auth.Keys["validator-a"], 1)
	assert.Equal(t, "tank/dgraph", cfg.Snapshot.Dataset)
	assert.Equal(t, 24, cfg.Snapshot.MaxSnapshots)
	assert.Equal(t, Duration(15*time.Minute), cfg.Snapshot.AutoInterval)
	assert.Equal(t, Duration(30*time.Minute), cfg.Worker.DedupWindow)
	assert.Equal(t, uint64(2000), cfg.Fork.RetentionBlocks)
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bogus: 1\n"), 0o644))

	_, err := loadConfig(path)
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, b ,"))
	assert.Nil(t, splitList(""))
}
