// Package httpadmin is the broker's read-only admin façade: JSON over
// HTTP under /v1/admin/..., mirroring the cluster/topic/partition/ledger/
// subscription entity tree that internal/services.AdminService exposes.
// It never mutates state — every handler is a GET.
package httpadmin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pulsarbroker/internal/ids"
	"github.com/sawpanic/pulsarbroker/internal/persistence"
	"github.com/sawpanic/pulsarbroker/internal/services"
)

// Config is a local-only, read-only HTTP listener with conservative
// timeouts.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func DefaultConfig(addr string) Config {
	return Config{
		Addr:         addr,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the admin HTTP front end. It holds no broker state itself —
// every handler reads through Admin/Stats on each request.
type Server struct {
	Admin *services.AdminService
	Stats *services.StatsService

	router *mux.Router
	server *http.Server
	config Config
}

func NewServer(admin *services.AdminService, stats *services.StatsService, cfg Config) *Server {
	s := &Server{Admin: admin, Stats: stats, config: cfg}
	s.router = mux.NewRouter()
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.timeoutMiddleware)
	s.router.Use(s.jsonContentTypeMiddleware)

	admin := s.router.PathPrefix("/v1/admin").Subrouter()
	admin.HandleFunc("/health", s.health).Methods(http.MethodGet)
	admin.HandleFunc("/cluster", s.cluster).Methods(http.MethodGet)
	admin.HandleFunc("/cluster/stats", s.clusterStats).Methods(http.MethodGet)
	admin.HandleFunc("/nodes", s.nodes).Methods(http.MethodGet)
	admin.HandleFunc("/nodes/{nodeId}", s.node).Methods(http.MethodGet)
	admin.HandleFunc("/topics", s.topics).Methods(http.MethodGet)
	admin.HandleFunc("/topics/{topicId}", s.topic).Methods(http.MethodGet)
	admin.HandleFunc("/topics/{topicId}/stats", s.topicStats).Methods(http.MethodGet)
	admin.HandleFunc("/topics/{topicId}/partitions", s.partitions).Methods(http.MethodGet)
	admin.HandleFunc("/topics/{topicId}/partitions/{partitionId}", s.partition).Methods(http.MethodGet)
	admin.HandleFunc("/topics/{topicId}/partitions/{partitionId}/stats", s.partitionStats).Methods(http.MethodGet)
	admin.HandleFunc("/topics/{topicId}/partitions/{partitionId}/ledgers", s.ledgers).Methods(http.MethodGet)
	admin.HandleFunc("/topics/{topicId}/partitions/{partitionId}/ledgers/{ledgerId}", s.ledger).Methods(http.MethodGet)
	admin.HandleFunc("/topics/{topicId}/subscriptions/{subscriptionId}", s.subscription).Methods(http.MethodGet)
	admin.HandleFunc("/topics/{topicId}/subscriptions/{subscriptionId}/stats", s.subscriptionStats).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.notFound)
}

func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.config.Addr).Msg("httpadmin: listening (read-only)")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// --- middleware ---

type contextKey string

const requestIDKey contextKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		log.Debug().
			Str("request_id", fmt.Sprint(r.Context().Value(requestIDKey))).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("httpadmin: request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps a services/persistence error to the right HTTP status;
// everything not recognized as "missing" is a 500.
func statusFor(err error) int {
	if errors.Is(err, persistence.ErrNotFound) ||
		errors.Is(err, services.ErrTopicNotFound) ||
		errors.Is(err, services.ErrPartitionNotFound) ||
		errors.Is(err, services.ErrLedgerNotFound) ||
		errors.Is(err, services.ErrSubscriptionNotFound) ||
		errors.Is(err, services.ErrNodeNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func pathUint32(r *http.Request, name string) (uint32, error) {
	v, err := strconv.ParseUint(mux.Vars(r)[name], 10, 32)
	return uint32(v), err
}

func pathUint16(r *http.Request, name string) (uint16, error) {
	v, err := strconv.ParseUint(mux.Vars(r)[name], 10, 16)
	return uint16(v), err
}

// --- handlers ---

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, fmt.Errorf("no such admin route: %s %s", r.Method, r.URL.Path))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) cluster(w http.ResponseWriter, r *http.Request) {
	c, err := s.Admin.Cluster(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) clusterStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Stats.Cluster(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) nodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.Admin.AllNodes(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) node(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint16(r, "nodeId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := s.Admin.Node(r.Context(), ids.NodeId(id))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) topics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.Admin.AllTopics(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, topics)
}

func (s *Server) topic(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint32(r, "topicId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t, err := s.Admin.Topic(r.Context(), ids.TopicId(id))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) topicStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathUint32(r, "topicId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stats, err := s.Stats.Topic(r.Context(), ids.TopicId(id))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) partitions(w http.ResponseWriter, r *http.Request) {
	topicId, err := pathUint32(r, "topicId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	partitions, err := s.Admin.Partitions(r.Context(), ids.TopicId(topicId))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, partitions)
}

func (s *Server) partition(w http.ResponseWriter, r *http.Request) {
	topicId, partitionId, err := topicAndPartition(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := s.Admin.Partition(r.Context(), topicId, partitionId)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) partitionStats(w http.ResponseWriter, r *http.Request) {
	topicId, partitionId, err := topicAndPartition(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stats, err := s.Stats.Partition(r.Context(), topicId, partitionId)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) ledgers(w http.ResponseWriter, r *http.Request) {
	topicId, partitionId, err := topicAndPartition(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ledgers, err := s.Admin.Ledgers(r.Context(), topicId, partitionId)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ledgers)
}

func (s *Server) ledger(w http.ResponseWriter, r *http.Request) {
	topicId, partitionId, err := topicAndPartition(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ledgerId, err := pathUint32(r, "ledgerId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	l, err := s.Admin.Ledger(r.Context(), topicId, partitionId, ids.LedgerId(ledgerId))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) subscription(w http.ResponseWriter, r *http.Request) {
	topicId, subscriptionId, err := topicAndSubscription(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.Admin.SubscriptionRecord(r.Context(), topicId, subscriptionId)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) subscriptionStats(w http.ResponseWriter, r *http.Request) {
	topicId, subscriptionId, err := topicAndSubscription(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := s.Admin.SubscriptionRecord(r.Context(), topicId, subscriptionId)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"queue_depth": rec.Subscription().QueueDepth()})
}

func topicAndPartition(r *http.Request) (ids.TopicId, ids.PartitionId, error) {
	topicId, err := pathUint32(r, "topicId")
	if err != nil {
		return 0, 0, err
	}
	partitionId, err := pathUint16(r, "partitionId")
	if err != nil {
		return 0, 0, err
	}
	return ids.TopicId(topicId), ids.PartitionId(partitionId), nil
}

func topicAndSubscription(r *http.Request) (ids.TopicId, ids.SubscriptionId, error) {
	topicId, err := pathUint32(r, "topicId")
	if err != nil {
		return 0, 0, err
	}
	subscriptionId, err := pathUint32(r, "subscriptionId")
	if err != nil {
		return 0, 0, err
	}
	return ids.TopicId(topicId), ids.SubscriptionId(subscriptionId), nil
}
