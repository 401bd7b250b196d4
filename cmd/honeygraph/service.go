// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/spknetwork/honeygraph/api"
	"github.com/spknetwork/honeygraph/checkpointdb"
	"github.com/spknetwork/honeygraph/co"
	"github.com/spknetwork/honeygraph/fork"
	"github.com/spknetwork/honeygraph/graph"
	"github.com/spknetwork/honeygraph/metrics"
	"github.com/spknetwork/honeygraph/registry"
	"github.com/spknetwork/honeygraph/snapshot"
	"github.com/spknetwork/honeygraph/transform"
	"github.com/spknetwork/honeygraph/worker"
)

// masterAction runs the replica: registry, graph adapter, fork reload,
// worker pipeline and the API server, torn down on SIGINT/SIGTERM.
func masterAction(ctx *cli.Context) error {
	defer func() { logger.Info("exited") }()

	initLogger(ctx)
	cfg, err := loadConfig(ctx.String(configFlag.Name))
	if err != nil {
		return err
	}
	cfg.applyFlags(ctx)

	if cfg.API.Metrics {
		metrics.InitializePrometheusMetrics()
	}
	checkClockOffset()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return errors.WithMessage(err, "create data dir")
	}

	reg, err := registry.Open(filepath.Join(cfg.DataDir, "networks.json"))
	if err != nil {
		return err
	}
	network, ok := reg.Get(cfg.Network)
	if !ok {
		network = registry.Network{Prefix: cfg.Network, Name: cfg.Network}
		if err := reg.Register(network); err != nil {
			return err
		}
	}

	store, err := graph.NewAdapter(cfg.Graph.Endpoint, cfg.Network)
	if err != nil {
		return err
	}
	defer func() { logger.Info("closing graph connection..."); store.Close() }()

	bootCtx := context.Background()
	schema := graph.DefaultSchema
	if network.ExtraSchema != "" {
		schema += "\n" + network.ExtraSchema
	}
	if err := store.ApplySchema(bootCtx, schema); err != nil {
		return err
	}

	ledger, err := checkpointdb.New(filepath.Join(cfg.DataDir, "checkpoints.db"))
	if err != nil {
		return err
	}
	defer func() { logger.Info("closing checkpoint ledger..."); ledger.Close() }()

	snaps := snapshot.NewController(snapshotEngine(cfg))
	snaps.SetMax(cfg.Snapshot.MaxSnapshots)
	if err := restoreSnapshots(snaps, ledger); err != nil {
		return err
	}

	forks := fork.NewManager(store)
	forks.SetRetention(cfg.Fork.RetentionBlocks)
	if err := forks.Load(bootCtx); err != nil {
		return errors.WithMessage(err, "reload forks")
	}

	queue := worker.NewQueue()
	queue.SetDedupTTL(time.Duration(cfg.Worker.DedupWindow))
	pipeline := worker.NewPipeline(store, transform.New(store), forks, snaps, ledger)

	// every other registered token network gets its own graph namespace
	// and fork table; jobs route to it by prefix
	var others []registry.Network
	for _, n := range reg.List() {
		if n.Prefix != cfg.Network {
			others = append(others, n)
		}
	}
	boots := make([]tokenNetwork, len(others))
	co.Parallel(func(enqueue co.Enqueue) {
		for i, n := range others {
			i, n := i, n
			enqueue(func() {
				boots[i] = bootTokenNetwork(bootCtx, cfg, n, snaps, ledger)
			})
		}
	})
	for i, b := range boots {
		if b.store != nil {
			defer b.store.Close()
		}
		if b.err != nil {
			return errors.WithMessagef(b.err, "network %s", others[i].Prefix)
		}
		pipeline.AddNetwork(others[i].Prefix, b.pipeline)
		logger.Info("token network attached", "prefix", others[i].Prefix, "name", others[i].Name)
	}

	pipeline.Register(queue)
	queue.Start()
	defer func() { logger.Info("stopping worker pools..."); queue.Stop() }()

	if cfg.Snapshot.AutoInterval > 0 {
		stopAuto := snaps.EnableAutoSnapshots(time.Duration(cfg.Snapshot.AutoInterval), func() (uint64, string) {
			if f, ok := forks.Get(forks.Canonical()); ok {
				return f.TipBlock, f.TipHash
			}
			return 0, ""
		})
		defer func() { logger.Info("stopping auto snapshots..."); stopAuto() }()
	}

	auth, err := buildAuth(cfg)
	if err != nil {
		return err
	}
	handler, closeAPI := api.New(store, queue, forks, pipeline, api.Options{
		AllowedOrigins:  cfg.API.CORS,
		Auth:            auth,
		EnableReqLogger: cfg.API.RequestLogs,
		EnableMetrics:   cfg.API.Metrics,
	})
	defer func() { logger.Info("closing API streams..."); closeAPI() }()

	apiURL, srvCloser, err := startAPIServer(cfg.API.Addr, handler)
	if err != nil {
		return err
	}
	defer func() { logger.Info("stopping API server..."); srvCloser() }()

	logger.Info("replica started",
		"network", cfg.Network,
		"graph", cfg.Graph.Endpoint,
		"api", apiURL,
		"snapshots", snaps.Available())

	exit := handleExitSignal()
	<-exit.Done()
	return nil
}

// tokenNetwork is one booted token network: its namespaced store and
// the pipeline serving it.
type tokenNetwork struct {
	store    *graph.Adapter
	pipeline *worker.Pipeline
	err      error
}

// bootTokenNetwork connects a token network's graph namespace, applies
// its schema and reloads its fork table. Snapshots and the checkpoint
// ledger are shared with the primary network.
func bootTokenNetwork(ctx context.Context, cfg Config, n registry.Network,
	snaps *snapshot.Controller, ledger *checkpointdb.DB) tokenNetwork {
	store, err := graph.NewAdapter(cfg.Graph.Endpoint, n.Prefix)
	if err != nil {
		return tokenNetwork{err: err}
	}
	schema := graph.DefaultSchema
	if n.ExtraSchema != "" {
		schema += "\n" + n.ExtraSchema
	}
	if err := store.ApplySchema(ctx, schema); err != nil {
		return tokenNetwork{store: store, err: err}
	}
	forks := fork.NewManager(store)
	forks.SetRetention(cfg.Fork.RetentionBlocks)
	if err := forks.Load(ctx); err != nil {
		return tokenNetwork{store: store, err: errors.WithMessage(err, "reload forks")}
	}
	return tokenNetwork{
		store:    store,
		pipeline: worker.NewPipeline(store, transform.New(store), forks, snaps, ledger),
	}
}

func snapshotEngine(cfg Config) snapshot.Engine {
	if cfg.Snapshot.Dataset == "" {
		return snapshot.NoopEngine{}
	}
	return snapshot.NewZFSEngine(cfg.Snapshot.Dataset)
}

// restoreSnapshots seeds the controller from the checkpoint ledger so
// rollback works across restarts.
func restoreSnapshots(snaps *snapshot.Controller, ledger *checkpointdb.DB) error {
	cps, err := ledger.List(0, snapshot.DefaultMaxSnapshots)
	if err != nil {
		return errors.WithMessage(err, "read checkpoint ledger")
	}
	infos := make([]snapshot.Info, 0, len(cps))
	for _, cp := range cps {
		if cp.SnapshotHandle == "" {
			continue
		}
		infos = append(infos, snapshot.Info{
			Name:     cp.SnapshotHandle,
			BlockNum: cp.BlockNum,
			Hash:     cp.BlockHash,
		})
	}
	snaps.Restore(infos)
	return nil
}

func buildAuth(cfg Config) (*api.Auth, error) {
	if len(cfg.Auth.Keys) == 0 {
		if len(cfg.Auth.Accounts) > 0 {
			logger.Warn("auth accounts configured without keys, intake left open")
		}
		return nil, nil
	}
	keys, err := api.StaticKeys(cfg.Auth.Keys)
	if err != nil {
		return nil, err
	}
	return api.NewAuth(keys, cfg.Auth.Accounts), nil
}

func registerNetworkAction(ctx *cli.Context) error {
	initLogger(ctx)
	reg, err := registry.Open(filepath.Join(ctx.String(dataDirFlag.Name), "networks.json"))
	if err != nil {
		return err
	}
	prefix := ctx.String(networkFlag.Name)
	if prefix == "" {
		return errors.New("--network is required")
	}
	return reg.Register(registry.Network{
		Prefix:      prefix,
		Name:        ctx.String(nameFlag.Name),
		Description: ctx.String(descriptionFlag.Name),
		Tokens:      splitList(ctx.String(tokensFlag.Name)),
		StartBlock:  ctx.Uint64(startBlockFlag.Name),
	})
}

func listNetworksAction(ctx *cli.Context) error {
	reg, err := registry.Open(filepath.Join(ctx.String(dataDirFlag.Name), "networks.json"))
	if err != nil {
		return err
	}
	for _, n := range reg.List() {
		fmt.Printf("%-12s %s tokens=%v startBlock=%d\n", n.Prefix, n.Name, n.Tokens, n.StartBlock)
	}
	return nil
}
