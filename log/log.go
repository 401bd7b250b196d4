// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package log provides the process-wide structured logger. Packages grab
// a child logger once at init time:
//
//	var logger = log.WithContext("pkg", "worker")
package log

import (
	"log/slog"
	"os"
	"sync/atomic"
)

// Level aliases slog levels plus the two extremes used by the CLI
// verbosity flag.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelCrit  = slog.Level(12)
)

// Logger is the logging interface handed to packages.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	With(ctx ...any) Logger
}

type logger struct {
	inner *slog.Logger
}

func (l *logger) Trace(msg string, ctx ...any) { l.inner.Log(nil, LevelTrace, msg, ctx...) }
func (l *logger) Debug(msg string, ctx ...any) { l.inner.Debug(msg, ctx...) }
func (l *logger) Info(msg string, ctx ...any)  { l.inner.Info(msg, ctx...) }
func (l *logger) Warn(msg string, ctx ...any)  { l.inner.Warn(msg, ctx...) }
func (l *logger) Error(msg string, ctx ...any) { l.inner.Error(msg, ctx...) }
func (l *logger) With(ctx ...any) Logger       { return &logger{l.inner.With(ctx...)} }

var root atomic.Pointer[logger]

func init() {
	root.Store(&logger{slog.New(NewTerminalHandler(os.Stderr, LevelInfo))})
}

// SetHandler replaces the root handler. Children created by WithContext
// before the call keep the old one, so call it first thing in main.
func SetHandler(h slog.Handler) {
	root.Store(&logger{slog.New(h)})
}

// WithContext returns a child of the root logger carrying the given
// key/value context.
func WithContext(ctx ...any) Logger {
	return root.Load().With(ctx...)
}

// VerbosityToLevel maps the CLI 0..5 verbosity flag onto a slog level.
func VerbosityToLevel(verbosity int) slog.Level {
	switch verbosity {
	case 0:
		return LevelCrit
	case 1:
		return LevelError
	case 2:
		return LevelWarn
	case 3:
		return LevelInfo
	case 4:
		return LevelDebug
	default:
		return LevelTrace
	}
}
