// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"
	"gopkg.in/yaml.v3"
)

// Duration is a yaml-decodable time.Duration ("30m", "2h").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.WithMessage(err, "parse duration")
	}
	*d = Duration(v)
	return nil
}

// Config is the YAML configuration. Flags override file values.
type Config struct {
	Graph struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"graph"`
	Network string `yaml:"network"`
	DataDir string `yaml:"dataDir"`
	API     struct {
		Addr        string `yaml:"addr"`
		CORS        string `yaml:"cors"`
		RequestLogs bool   `yaml:"requestLogs"`
		Metrics     bool   `yaml:"metrics"`
	} `yaml:"api"`
	Auth struct {
		// Accounts is the replication whitelist; empty admits any
		// account whose signature verifies against Keys.
		Accounts []string `yaml:"accounts"`
		// Keys maps an account to its compressed secp256k1 pubkeys in
		// hex. An empty table disables signature checking entirely.
		Keys map[string][]string `yaml:"keys"`
	} `yaml:"auth"`
	Snapshot struct {
		Dataset string `yaml:"dataset"`
		// MaxSnapshots caps retained checkpoint snapshots; the oldest
		// are pruned past the cap.
		MaxSnapshots int `yaml:"maxSnapshots"`
		// AutoInterval takes periodic snapshots of the canonical tip
		// between checkpoints. Zero disables them.
		AutoInterval Duration `yaml:"autoInterval"`
	} `yaml:"snapshot"`
	Worker struct {
		// DedupWindow is how long a processed operation stays
		// suppressed against replays.
		DedupWindow Duration `yaml:"dedupWindow"`
	} `yaml:"worker"`
	Fork struct {
		// RetentionBlocks is how many blocks behind a checkpoint an
		// orphaned fork is kept before pruning.
		RetentionBlocks uint64 `yaml:"retentionBlocks"`
	} `yaml:"fork"`
}

func defaultConfig() Config {
	var c Config
	c.Graph.Endpoint = "localhost:9080"
	c.Network = "spkccT_"
	c.DataDir = defaultDataDir()
	c.API.Addr = "localhost:3008"
	c.API.CORS = "*"
	c.API.Metrics = true
	c.Snapshot.MaxSnapshots = 100
	c.Worker.DedupWindow = Duration(2 * time.Hour)
	c.Fork.RetentionBlocks = 1000
	return c
}

// loadConfig reads path over the defaults. An empty path yields the
// defaults untouched.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.WithMessage(err, "read config")
	}
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, errors.WithMessage(err, "decode config")
	}
	return cfg, nil
}

// applyFlags folds explicitly set CLI flags over the config.
func (c *Config) applyFlags(ctx *cli.Context) {
	if v := ctx.String(graphFlag.Name); v != "" {
		c.Graph.Endpoint = v
	}
	if v := ctx.String(networkFlag.Name); v != "" {
		c.Network = v
	}
	if ctx.IsSet(dataDirFlag.Name) {
		c.DataDir = ctx.String(dataDirFlag.Name)
	}
	if v := ctx.String(apiAddrFlag.Name); v != "" {
		c.API.Addr = v
	}
	if v := ctx.String(apiCorsFlag.Name); v != "" {
		c.API.CORS = v
	}
	if v := ctx.String(authAccountsFlag.Name); v != "" {
		c.Auth.Accounts = splitList(v)
	}
	if v := ctx.String(snapshotDatasetFlag.Name); v != "" {
		c.Snapshot.Dataset = v
	}
	if ctx.Bool(enableAPILogsFlag.Name) {
		c.API.RequestLogs = true
	}
	if ctx.IsSet(enableMetricsFlag.Name) {
		c.API.Metrics = ctx.BoolT(enableMetricsFlag.Name)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
