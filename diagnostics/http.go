// Package diagnostics exposes the runtime's read-only snapshot surface
// (bus stats, per-topic info, aggregated capabilities, per-API call
// counts) over a chi HTTP router, plus a cron-scheduled periodic stats
// snapshot logger.
package diagnostics

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coremodular/imc/apiregistry"
	"github.com/coremodular/imc/bus"
)

// Server wires a read-only chi router around a Bus and an API dispatch
// Table. Every route here corresponds 1:1 to a Bus/Table accessor; the
// server itself holds no state of its own beyond the router.
type Server struct {
	router chi.Router
	b      *bus.Bus
	table  *apiregistry.Table
	topics []string
}

// NewServer builds a Server. topics lists the topic names GetTopicInfo
// should report on /diag/topics; the bus's own subscription table has no
// name-enumeration API (only id-keyed), so the caller supplies the names
// it cares about, the same way a host registers routes explicitly rather
// than the router discovering them.
func NewServer(b *bus.Bus, table *apiregistry.Table, topics []string) *Server {
	s := &Server{
		router: chi.NewRouter(),
		b:      b,
		table:  table,
		topics: topics,
	}
	s.routes()
	return s
}

// ServeHTTP makes Server an http.Handler so it can be mounted directly or
// served standalone via http.ListenAndServe.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Get("/diag/stats", s.handleStats)
	s.router.Get("/diag/topics", s.handleTopics)
	s.router.Get("/diag/caps", s.handleCaps)
	s.router.Get("/diag/apis", s.handleAPIs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.b.GetStats())
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	infos := make([]bus.TopicInfo, 0, len(s.topics))
	for _, name := range s.topics {
		info, err := s.b.GetTopicInfo(name)
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	writeJSON(w, infos)
}

type capsResponse struct {
	Capabilities          uint64 `json:"capabilities"`
	SharedExternalPayload bool   `json:"shared_external_payload"`
	SynchronousCallbacks  bool   `json:"synchronous_future_callbacks"`
	PriorityFairness      bool   `json:"priority_fairness"`
}

func (s *Server) handleCaps(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, capsResponse{
		Capabilities:          s.table.Capabilities(),
		SharedExternalPayload: s.table.HasCapability(apiregistry.CapSharedExternalPayload),
		SynchronousCallbacks:  s.table.HasCapability(apiregistry.CapSynchronousFutureCallbacks),
		PriorityFairness:      s.table.HasCapability(apiregistry.CapPriorityFairness),
	})
}

type apiInfo struct {
	ID           uint32 `json:"id"`
	Name         string `json:"name"`
	Capabilities uint64 `json:"capabilities"`
	CallCount    uint64 `json:"call_count"`
}

// handleAPIs lists every registered dispatch-table entry with its call
// counter, the trace of which APIs plug-ins are actually resolving.
func (s *Server) handleAPIs(w http.ResponseWriter, r *http.Request) {
	entries := s.table.Entries()
	out := make([]apiInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, apiInfo{
			ID:           e.ID,
			Name:         e.Name,
			Capabilities: e.Capabilities,
			CallCount:    e.CallCount(),
		})
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
