// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	cli "gopkg.in/urfave/cli.v1"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to the YAML configuration file",
	}
	graphFlag = cli.StringFlag{
		Name:  "graph",
		Usage: "dgraph alpha grpc address",
	}
	networkFlag = cli.StringFlag{
		Name:  "network",
		Usage: "prefix of the network to replicate (e.g. spkccT_)",
	}
	dataDirFlag = cli.StringFlag{
		Name:  "data-dir",
		Value: defaultDataDir(),
		Usage: "directory for the checkpoint ledger and network roster",
	}
	apiAddrFlag = cli.StringFlag{
		Name:  "api-addr",
		Usage: "API service listening address",
	}
	apiCorsFlag = cli.StringFlag{
		Name:  "api-cors",
		Usage: "comma separated list of domains from which to accept cross origin requests to API",
	}
	authAccountsFlag = cli.StringFlag{
		Name:  "auth-accounts",
		Usage: "comma separated whitelist of accounts allowed to push replication",
	}
	snapshotDatasetFlag = cli.StringFlag{
		Name:  "snapshot-dataset",
		Usage: "ZFS dataset backing the store volume, enables checkpoint rollback",
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Value: 3,
		Usage: "log verbosity (0-5)",
	}
	enableAPILogsFlag = cli.BoolFlag{
		Name:  "enable-api-logs",
		Usage: "enables API requests logging",
	}
	enableMetricsFlag = cli.BoolTFlag{
		Name:  "enable-metrics",
		Usage: "enables the prometheus metrics endpoint",
	}

	// register-network command
	nameFlag = cli.StringFlag{
		Name:  "name",
		Usage: "display name of the network",
	}
	descriptionFlag = cli.StringFlag{
		Name:  "description",
		Usage: "description of the network",
	}
	tokensFlag = cli.StringFlag{
		Name:  "tokens",
		Usage: "comma separated token symbols of the network",
	}
	startBlockFlag = cli.Uint64Flag{
		Name:  "start-block",
		Usage: "block the replica starts ingesting from",
	}
)
