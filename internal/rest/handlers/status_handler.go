package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ratchetdb/ratchet/api"
	"github.com/rs/zerolog/log"
)

// StatusReporter is the slice of the orchestrator the status API needs.
type StatusReporter interface {
	Status(ctx context.Context) (*api.MigrationStatus, error)
	Records(ctx context.Context) ([]api.MigrationRecord, error)
}

type StatusHandler struct {
	reporter StatusReporter
}

func NewStatusHandler(reporter StatusReporter) *StatusHandler {
	return &StatusHandler{reporter: reporter}
}

func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.reporter.Status(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "error fetching migration status", err)
		return
	}

	respondJSON(w, http.StatusOK, status)
}

func (h *StatusHandler) GetRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.reporter.Records(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "error fetching migration records", err)
		return
	}
	if records == nil {
		records = []api.MigrationRecord{}
	}

	respondJSON(w, http.StatusOK, records)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

type apiError struct {
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, status int, msg string, err error) {
	log.Error().Err(err).Msg(msg)
	respondJSON(w, status, apiError{Error: msg})
}
