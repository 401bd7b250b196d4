// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

const termTimeFormat = "01-02|15:04:05.000"

// TerminalHandler renders records in the aligned single-line format used
// on node consoles, with level colors when the writer is a TTY.
type TerminalHandler struct {
	mu       sync.Mutex
	wr       io.Writer
	lvl      *slog.LevelVar
	useColor bool
	attrs    []slog.Attr
}

// NewTerminalHandler creates a handler writing to wr at the given level.
func NewTerminalHandler(wr io.Writer, level slog.Level) *TerminalHandler {
	useColor := false
	if f, ok := wr.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	lvl := new(slog.LevelVar)
	lvl.Set(level)
	return &TerminalHandler{wr: wr, lvl: lvl, useColor: useColor}
}

// SetLevel adjusts the minimum level at runtime.
func (h *TerminalHandler) SetLevel(level slog.Level) { h.lvl.Set(level) }

func (h *TerminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.lvl.Level()
}

func (h *TerminalHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 128)
	buf = append(buf, h.levelTag(r.Level)...)
	buf = append(buf, '[')
	buf = r.Time.AppendFormat(buf, termTimeFormat)
	buf = append(buf, "] "...)
	buf = append(buf, r.Message...)

	appendAttr := func(a slog.Attr) bool {
		buf = append(buf, ' ')
		buf = append(buf, a.Key...)
		buf = append(buf, '=')
		buf = append(buf, fmt.Sprintf("%v", a.Value.Any())...)
		return true
	}
	for _, a := range h.attrs {
		appendAttr(a)
	}
	r.Attrs(appendAttr)
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.wr.Write(buf)
	return err
}

func (h *TerminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TerminalHandler{
		wr:       h.wr,
		lvl:      h.lvl,
		useColor: h.useColor,
		attrs:    append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *TerminalHandler) WithGroup(_ string) slog.Handler {
	// groups are not used by this codebase
	return h
}

func (h *TerminalHandler) levelTag(level slog.Level) string {
	var tag, color string
	switch {
	case level >= LevelCrit:
		tag, color = "CRIT ", "35"
	case level >= LevelError:
		tag, color = "ERROR", "31"
	case level >= LevelWarn:
		tag, color = "WARN ", "33"
	case level >= LevelInfo:
		tag, color = "INFO ", "32"
	case level >= LevelDebug:
		tag, color = "DEBUG", "36"
	default:
		tag, color = "TRACE", "34"
	}
	if h.useColor {
		return "\x1b[" + color + "m" + tag + "\x1b[0m "
	}
	return tag + " "
}

// DiscardHandler drops every record; used by tests.
func DiscardHandler() slog.Handler { return discardHandler{} }

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
