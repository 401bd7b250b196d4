// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"fmt"
	"os"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/spknetwork/honeygraph/log"
)

var (
	version   string
	gitCommit string
	gitTag    string
	logger    = log.WithContext("pkg", "main")
)

func fullVersion() string {
	versionMeta := "release"
	if gitTag == "" {
		versionMeta = "dev"
	}
	return fmt.Sprintf("%s-%s-%s", version, gitCommit, versionMeta)
}

func main() {
	app := cli.App{
		Version:   fullVersion(),
		Name:      "Honeygraph",
		Usage:     "Fork-aware graph replica of SPK Network sidechain state",
		Copyright: "2025 SPK Network",
		Flags: []cli.Flag{
			configFlag,
			graphFlag,
			networkFlag,
			dataDirFlag,
			apiAddrFlag,
			apiCorsFlag,
			authAccountsFlag,
			snapshotDatasetFlag,
			verbosityFlag,
			enableAPILogsFlag,
			enableMetricsFlag,
		},
		Action: masterAction,
		Commands: []cli.Command{
			{
				Name:  "register-network",
				Usage: "add a token network to the replication roster",
				Flags: []cli.Flag{
					dataDirFlag,
					networkFlag,
					nameFlag,
					descriptionFlag,
					tokensFlag,
					startBlockFlag,
					verbosityFlag,
				},
				Action: registerNetworkAction,
			},
			{
				Name:   "list-networks",
				Usage:  "print the replication roster",
				Flags:  []cli.Flag{dataDirFlag},
				Action: listNetworksAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
