// Copyright (c) 2025 The Honeygraph developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package api assembles the HTTP surface of the replica: the signed
// replicate intake, the websocket op stream and the filesystem, DEX and
// fork read endpoints.
package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/spknetwork/honeygraph/fork"
	"github.com/spknetwork/honeygraph/log"
	"github.com/spknetwork/honeygraph/metrics"
	"github.com/spknetwork/honeygraph/worker"
)

var logger = log.WithContext("pkg", "api")

// Options for the API router.
type Options struct {
	AllowedOrigins  string // comma separated, "*" admits any
	Auth            *Auth  // nil leaves the intake open
	EnableReqLogger bool
	EnableMetrics   bool
}

// New returns the http handler of the API server and a close function
// that drops live stream connections.
func New(
	store ReadStore,
	queue *worker.Queue,
	forks *fork.Manager,
	resolver ForkResolver,
	opts Options,
) (http.HandlerFunc, func()) {
	origins := strings.Split(strings.TrimSpace(opts.AllowedOrigins), ",")
	for i, o := range origins {
		origins[i] = strings.ToLower(strings.TrimSpace(o))
	}

	router := mux.NewRouter()

	NewReads(store, forks, queue).Mount(router)

	ingest := NewIngest(queue, resolver)
	ingest.MountStatus(router, "/job")
	replicate := router.PathPrefix("/replicate").Subrouter()
	if opts.Auth != nil {
		replicate.Use(opts.Auth.Handler)
	}
	ingest.Mount(replicate)

	stream := NewStream(queue, resolver, origins)
	stream.Mount(router, "/stream")

	if opts.EnableMetrics {
		router.Path("/metrics").Handler(metrics.HTTPHandler())
	}

	handler := handlers.CompressHandler(router)
	handler = handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedHeaders([]string{"content-type", HeaderAccount, HeaderSignature, HeaderTimestamp}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
	)(handler)

	if opts.EnableReqLogger {
		handler = RequestLoggerHandler(handler, logger)
	}

	return handler.ServeHTTP, stream.Close // the stream holds hijacked conns, which need to be closed
}
