// Command arvore_server exposes a single index file over HTTP. Requests go
// through the index manager, which arbitrates the shared tree handle and
// records metrics; writes are rate limited.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/arvore-db/arvore/core/btree"
	"github.com/arvore-db/arvore/core/indexmanager"
	"github.com/arvore-db/arvore/core/pagestore"
	"github.com/arvore-db/arvore/pkg/logger"
	"github.com/arvore-db/arvore/pkg/telemetry"
)

// APIRequest is a client request against the data endpoint.
type APIRequest struct {
	Command string `json:"command"`
	Key     int32  `json:"key"`
	Value   int32  `json:"value,omitempty"`
}

// APIResponse is the server's reply.
type APIResponse struct {
	Status  string `json:"status"` // OK, ERROR, NOT_FOUND
	Message string `json:"message,omitempty"`
	Value   *int32 `json:"value,omitempty"`
}

type server struct {
	index        *indexmanager.BTreeIndexManager
	writeLimiter *rate.Limiter
	logger       *zap.Logger
}

func main() {
	listenAddr := flag.String("listen", ":8090", "HTTP listen address")
	dbPath := flag.String("db", "arvore.db", "path for the index backing file")
	order := flag.Int("order", 4, "tree order when creating a new index file")
	logLevel := flag.String("log-level", "info", "minimum log level")
	metricsPort := flag.Int("metrics-port", 2112, "Prometheus /metrics port")
	writeRate := flag.Float64("write-rate", 500, "sustained writes per second")
	writeBurst := flag.Int("write-burst", 100, "write burst size")
	flag.Parse()

	log, err := logger.New(logger.Config{Level: *logLevel, Format: "json", OutputFile: "stdout"})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger setup failed:", err)
		os.Exit(1)
	}
	defer log.Sync()

	tel, telShutdown, err := telemetry.New(telemetry.Config{
		Enabled:        true,
		ServiceName:    "arvore_server",
		PrometheusPort: *metricsPort,
	})
	if err != nil {
		log.Fatal("telemetry setup failed", zap.Error(err))
	}

	tree, err := btree.Open(*dbPath, log)
	if errors.Is(err, pagestore.ErrDBFileNotFound) {
		log.Info("index file not found, creating", zap.String("db", *dbPath), zap.Int("order", *order))
		tree, err = btree.Create(*dbPath, *order, log)
	}
	if err != nil {
		log.Fatal("opening index failed", zap.Error(err))
	}

	index, err := indexmanager.NewBTreeIndexManager(tree, tel, log)
	if err != nil {
		log.Fatal("index manager setup failed", zap.Error(err))
	}

	srv := &server{
		index:        index,
		writeLimiter: rate.NewLimiter(rate.Limit(*writeRate), *writeBurst),
		logger:       log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/data", srv.handleData)
	mux.HandleFunc("/api/dump", srv.handleDump)
	mux.HandleFunc("/status", srv.handleStatus)

	httpServer := &http.Server{
		Addr:         *listenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", *listenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
	if err := index.Close(); err != nil {
		log.Error("index close failed", zap.Error(err))
	}
	if err := telShutdown(ctx); err != nil {
		log.Error("telemetry shutdown failed", zap.Error(err))
	}
}

func (s *server) handleData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req APIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIResponse{Status: "ERROR", Message: "malformed request body"})
		return
	}

	switch strings.ToUpper(req.Command) {
	case "PUT":
		if !s.writeLimiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, APIResponse{Status: "ERROR", Message: "write rate exceeded"})
			return
		}
		if err := s.index.Put(r.Context(), req.Key, req.Value); err != nil {
			s.fail(w, "PUT", req.Key, err)
			return
		}
		writeJSON(w, http.StatusOK, APIResponse{Status: "OK"})

	case "GET":
		value, found, err := s.index.Get(r.Context(), req.Key)
		if err != nil {
			s.fail(w, "GET", req.Key, err)
			return
		}
		if !found {
			writeJSON(w, http.StatusNotFound, APIResponse{Status: "NOT_FOUND"})
			return
		}
		writeJSON(w, http.StatusOK, APIResponse{Status: "OK", Value: &value})

	case "DELETE":
		if !s.writeLimiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, APIResponse{Status: "ERROR", Message: "write rate exceeded"})
			return
		}
		err := s.index.Delete(r.Context(), req.Key)
		if errors.Is(err, btree.ErrKeyNotFound) {
			writeJSON(w, http.StatusNotFound, APIResponse{Status: "NOT_FOUND"})
			return
		}
		if err != nil {
			s.fail(w, "DELETE", req.Key, err)
			return
		}
		writeJSON(w, http.StatusOK, APIResponse{Status: "OK"})

	default:
		writeJSON(w, http.StatusBadRequest, APIResponse{
			Status:  "ERROR",
			Message: fmt.Sprintf("unknown command %q", req.Command),
		})
	}
}

func (s *server) handleDump(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := s.index.Dump(r.Context(), w); err != nil {
		s.logger.Error("dump failed", zap.Error(err))
	}
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.index.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, APIResponse{Status: "ERROR", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) fail(w http.ResponseWriter, command string, key int32, err error) {
	s.logger.Error("request failed",
		zap.String("command", command),
		zap.Int32("key", key),
		zap.Int32("status", int32(btree.StatusOf(err))),
		zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, APIResponse{Status: "ERROR", Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
