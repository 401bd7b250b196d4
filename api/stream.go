// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/spknetwork/honeygraph/api/restutil"
	"github.com/spknetwork/honeygraph/metrics"
	"github.com/spknetwork/honeygraph/transform"
	"github.com/spknetwork/honeygraph/worker"
)

var metricStreamFrames = metrics.LazyLoadCounterVec("api_stream_frames_total", []string{"type"})

const (
	streamWriteTimeout = 10 * time.Second
	streamReadLimit    = 8 << 20 // an op frame carries a whole block batch
)

// StreamFrame is one inbound websocket message from an authoring node:
// either an operation batch for a block or a checkpoint notification.
type StreamFrame struct {
	Type       string             `json:"type"` // "ops" | "checkpoint"
	Block      *BlockPayload      `json:"block,omitempty"`
	Checkpoint *CheckpointPayload `json:"checkpoint,omitempty"`
}

// StreamAck answers every frame, carrying the queued job id or the
// rejection reason.
type StreamAck struct {
	JobID string `json:"jobId,omitempty"`
	Error string `json:"error,omitempty"`
}

// Stream accepts the websocket push feed from authoring nodes.
type Stream struct {
	queue    *worker.Queue
	resolver ForkResolver
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	done  chan struct{}
}

// NewStream creates the stream endpoint. origins follows the CORS
// allowlist; "*" admits any origin.
func NewStream(queue *worker.Queue, resolver ForkResolver, origins []string) *Stream {
	s := &Stream{
		queue:    queue,
		resolver: resolver,
		conns:    make(map[*websocket.Conn]struct{}),
		done:     make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range origins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
	return s
}

func (s *Stream) handleStream(w http.ResponseWriter, r *http.Request) error {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already responded
		return nil
	}
	if !s.track(conn) {
		conn.Close()
		return nil
	}
	defer s.untrack(conn)

	conn.SetReadLimit(streamReadLimit)
	logger.Debug("stream connected", "remote", r.RemoteAddr)

	for {
		var frame StreamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("stream closed", "remote", r.RemoteAddr, "err", err)
			}
			return nil
		}
		ack := s.dispatch(r.Context(), &frame)
		metricStreamFrames().AddWithLabel(1, map[string]string{"type": frame.Type})

		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(ack); err != nil {
			return nil
		}
	}
}

func (s *Stream) dispatch(ctx context.Context, frame *StreamFrame) StreamAck {
	var job *worker.Job
	switch frame.Type {
	case "ops":
		b := frame.Block
		if b == nil || b.BlockNum == 0 {
			return StreamAck{Error: "ops frame needs a block payload"}
		}
		var key, forkID string
		if b.BlockHash != "" {
			// block-bound batches serialize on the fork they extend
			id, err := s.resolver.ResolveFork(ctx, b.Network, b.BlockNum, b.BlockHash, b.PreviousHash)
			if err != nil {
				return StreamAck{Error: err.Error()}
			}
			key, forkID = id, id
		} else {
			// loose batches still serialize per DEX book
			key = worker.MarketKey(b.Operations)
		}
		job = worker.NewJob(worker.KindOps, key)
		job.Network = b.Network
		job.Ops = b.Operations
		job.Block = transform.BlockInfo{
			BlockNum:  b.BlockNum,
			BlockHash: b.BlockHash,
			PrevHash:  b.PreviousHash,
			ForkID:    forkID,
			Timestamp: b.Timestamp,
		}
	case "checkpoint":
		cp := frame.Checkpoint
		if cp == nil || cp.BlockNum == 0 || cp.BlockHash == "" {
			return StreamAck{Error: "checkpoint frame needs blockNum and blockHash"}
		}
		job = worker.NewJob(worker.KindCheckpoint, cp.BlockHash)
		job.Network = cp.Network
		job.Block = transform.BlockInfo{
			BlockNum:  cp.BlockNum,
			BlockHash: cp.BlockHash,
			Timestamp: cp.Timestamp,
		}
		job.PrevHash = cp.PrevHash
	default:
		return StreamAck{Error: "unknown frame type " + frame.Type}
	}

	id, err := s.queue.Submit(job)
	if err != nil {
		return StreamAck{Error: err.Error()}
	}
	return StreamAck{JobID: id}
}

func (s *Stream) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Stream) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// Close drops every connected stream. Safe to call more than once.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
		close(s.done)
	}
	for conn := range s.conns {
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
	}
	s.conns = make(map[*websocket.Conn]struct{})
}

// Mount installs the stream route.
func (s *Stream) Mount(root *mux.Router, path string) {
	root.Path(path).
		Methods(http.MethodGet).
		Name("stream").
		HandlerFunc(restutil.WrapHandlerFunc(s.handleStream))
}
