package web

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/lcalzada-xor/flowmap/internal/adapters/storage"
	"github.com/lcalzada-xor/flowmap/internal/core/domain"
	"github.com/lcalzada-xor/flowmap/internal/core/ports"
	"github.com/lcalzada-xor/flowmap/internal/telemetry"
)

// eventBatch is the JSON body of an event upload. All events of the
// batch share one evidence source.
type eventBatch struct {
	Source struct {
		Name    string `json:"name"`
		BaseRef string `json:"base_ref,omitempty"`
		Label   string `json:"label,omitempty"`
	} `json:"source"`
	Events []batchEvent `json:"events"`
}

type batchEvent struct {
	Kind    string          `json:"kind"`
	TailRef string          `json:"tail_ref,omitempty"`
	Data    json.RawMessage `json:"data"`
}

type batchResponse struct {
	BatchID string `json:"batch_id"`
	Events  int    `json:"events"`
}

// HandleEvents ingests a JSON event batch into the registry.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	var batch eventBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if batch.Source.Name == "" {
		http.Error(w, "bad request: missing source name", http.StatusBadRequest)
		return
	}

	source := domain.NewEvidenceSource(batch.Source.Name, batch.Source.BaseRef, batch.Source.Label)
	events, err := s.Registry.Ingest(func() ([]domain.Event, error) {
		return decodeBatch(source, batch.Events, s.Registry.System())
	})
	if err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp := batchResponse{BatchID: uuid.NewString(), Events: len(events)}
	log.Printf("Ingested batch %s: %d events from %s", resp.BatchID, resp.Events, source.Name)
	writeJSON(w, http.StatusOK, resp)
}

// decodeBatch resolves batch events against the live model. Decoding
// creates placeholder entities for referenced addresses, so callers
// run it under the registry lock.
func decodeBatch(source *domain.EvidenceSource, raw []batchEvent, system *domain.System) ([]domain.Event, error) {
	events := make([]domain.Event, 0, len(raw))
	for i, be := range raw {
		record := ports.EventRecord{
			Kind:    be.Kind,
			TailRef: be.TailRef,
			Data:    string(be.Data),
		}
		e, err := storage.DecodeEvent(record, source, system)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		telemetry.EventsReceived.WithLabelValues(be.Kind).Inc()
		events = append(events, e)
	}
	return events, nil
}

// resetRequest selects the enabled evidence sources by label. A nil
// filter re-enables every seen source.
type resetRequest struct {
	Filter map[string]bool `json:"filter"`
}

// HandleReset replays the event trail under a new source filter.
func (s *Server) HandleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	var err error
	if req.Filter == nil {
		err = s.Registry.ResetAll(r.Context())
	} else {
		err = s.Registry.Reset(r.Context(), req.Filter)
	}
	if err != nil {
		telemetry.ReplaysTotal.WithLabelValues("cancelled").Inc()
		http.Error(w, "reset cancelled: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	telemetry.ReplaysTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sourceView is one evidence source with its filter state.
type sourceView struct {
	Name    string `json:"name"`
	BaseRef string `json:"base_ref,omitempty"`
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
}

// HandleSources lists the seen evidence sources and the replay filter.
func (s *Server) HandleSources(w http.ResponseWriter, r *http.Request) {
	filter := s.Registry.SourceFilter()
	var views []sourceView
	for _, src := range s.Registry.Sources() {
		views = append(views, sourceView{
			Name:    src.Name,
			BaseRef: src.BaseRef,
			Label:   src.Label,
			Enabled: filter[src.Label],
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Response encode error: %v", err)
	}
}
