package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sharebin/svc/util"
	"time"
)

type HealthResponse struct {
	Status string `json:"status"`
}
type ReadyResponse struct {
	Ready    bool   `json:"ready"`
	Degraded bool   `json:"degraded"`
	Database string `json:"database"`
	Storage  string `json:"storage"`
	Cache    string `json:"cache"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// Ready fails when metadata or blob storage is down. A missing or broken
// Redis only degrades the service since every cache tier is optional.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	resp := ReadyResponse{
		Ready:    true,
		Database: "up",
		Storage:  "up",
		Cache:    "up",
	}
	if !pingComponent(ctx, s.meta, "database") {
		resp.Database = "down"
		resp.Ready = false
	}
	if !pingComponent(ctx, s.blobs, "storage") {
		resp.Storage = "down"
		resp.Ready = false
	}
	if s.rdb != nil {
		if !pingComponent(ctx, s.rdb, "cache") {
			resp.Cache = "down"
			resp.Degraded = true
		}
	} else {
		resp.Cache = "unavailable"
	}
	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(resp)
}
func pingComponent(ctx context.Context, p pinger, name string) bool {
	if p == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		util.Error().Err(err).Str("component", name).Msg("health check failed")
		return false
	}
	return true
}
