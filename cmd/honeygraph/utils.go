// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/beevik/ntp"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/spknetwork/honeygraph/co"
	"github.com/spknetwork/honeygraph/log"
)

func initLogger(ctx *cli.Context) {
	level := log.VerbosityToLevel(ctx.Int(verbosityFlag.Name))
	log.SetHandler(log.NewTerminalHandler(os.Stderr, level))
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".honeygraph"
	}
	return filepath.Join(home, ".honeygraph")
}

// checkClockOffset warns when the host clock drifts far enough to
// threaten the signed-request timestamp window.
func checkClockOffset() {
	resp, err := ntp.Query("pool.ntp.org")
	if err != nil {
		logger.Debug("failed to access NTP", "err", err)
		return
	}
	if resp.ClockOffset > 30*time.Second || resp.ClockOffset < -30*time.Second {
		logger.Warn("clock offset detected, signed requests may be rejected",
			"offset", resp.ClockOffset)
	}
}

func startAPIServer(addr string, handler http.HandlerFunc) (string, func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("listen API addr [%v]: %w", addr, err)
	}
	srv := &http.Server{Handler: handler}
	var goes co.Goes
	goes.Go(func() {
		srv.Serve(listener)
	})
	return "http://" + listener.Addr().String() + "/", func() {
		srv.Shutdown(context.Background())
		goes.Wait()
	}, nil
}

func handleExitSignal() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		exitSignalCh := make(chan os.Signal, 1)
		signal.Notify(exitSignalCh, os.Interrupt, syscall.SIGTERM)

		sig := <-exitSignalCh
		logger.Info("exit signal received", "signal", sig)
		cancel()
	}()
	return ctx
}
