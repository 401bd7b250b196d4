// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTerminalHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewTerminalHandler(&buf, LevelInfo)
	lg := slog.New(h)

	lg.Debug("dropped")
	lg.Info("block applied", "num", 42, "fork", "abc")
	out := buf.String()

	assert.False(t, strings.Contains(out, "dropped"))
	assert.True(t, strings.Contains(out, "INFO"))
	assert.True(t, strings.Contains(out, "block applied"))
	assert.True(t, strings.Contains(out, "num=42"))
	assert.True(t, strings.Contains(out, "fork=abc"))
}

func TestTerminalHandlerSetLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewTerminalHandler(&buf, LevelWarn)
	lg := slog.New(h)

	lg.Info("quiet")
	h.SetLevel(LevelDebug)
	lg.Info("loud")

	assert.False(t, strings.Contains(buf.String(), "quiet"))
	assert.True(t, strings.Contains(buf.String(), "loud"))
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, LevelTrace, VerbosityToLevel(5))
	assert.Equal(t, LevelInfo, VerbosityToLevel(3))
	assert.Equal(t, LevelCrit, VerbosityToLevel(0))
}
