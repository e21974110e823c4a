package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	channelapp "watertank-cloud/internal/channel/application"
	channel "watertank-cloud/internal/channel/domain"
	"watertank-cloud/internal/observability/metrics"
	"watertank-cloud/internal/telemetry/application"
	telemetry "watertank-cloud/internal/telemetry/domain"
)

const timeLayout = time.RFC3339

// Handler serves the data plane: writes under /channels/{name}/data and
// /channels/{name}/update, history under /channels/{name}/data, exports, and
// latest reads under /data/{name}/latest.
type Handler struct {
	pipeline *application.Pipeline
	query    *application.QueryService
	registry *channelapp.RegistryService
	logger   *log.Logger
}

// NewHandler constructs the data handler.
func NewHandler(pipeline *application.Pipeline, query *application.QueryService, registry *channelapp.RegistryService, logger *log.Logger) (*Handler, error) {
	if pipeline == nil {
		return nil, errors.New("data handler: nil pipeline")
	}
	if query == nil {
		return nil, errors.New("data handler: nil query service")
	}
	if registry == nil {
		return nil, errors.New("data handler: nil registry")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{pipeline: pipeline, query: query, registry: registry, logger: logger}, nil
}

// ServeHTTP routes data-plane requests.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if rest, ok := strings.CutPrefix(r.URL.Path, "/channels/"); ok {
		segments := strings.Split(strings.Trim(rest, "/"), "/")
		if len(segments) != 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		name := segments[0]
		switch segments[1] {
		case "data":
			switch r.Method {
			case http.MethodPost:
				h.handleWriteBody(w, r, name)
			case http.MethodGet:
				h.handleHistory(w, r, name)
			default:
				w.WriteHeader(http.StatusMethodNotAllowed)
			}
		case "update":
			if r.Method != http.MethodGet {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			h.handleWriteQuery(w, r, name)
		case "export":
			if r.Method != http.MethodGet {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			h.handleExport(w, r, name)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
		return
	}

	if rest, ok := strings.CutPrefix(r.URL.Path, "/data/"); ok {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		segments := strings.Split(strings.Trim(rest, "/"), "/")
		switch {
		case len(segments) == 2 && segments[1] == "latest":
			h.handleLatest(w, r, segments[0])
		case len(segments) == 3 && segments[1] == "latest":
			h.handleLatestField(w, r, segments[0], segments[2])
		default:
			w.WriteHeader(http.StatusNotFound)
		}
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

func (h *Handler) handleWriteBody(w http.ResponseWriter, r *http.Request, name string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveIngest("http", result, time.Since(start))
	}()

	var bag map[string]any
	if err := json.NewDecoder(r.Body).Decode(&bag); err != nil {
		result = metrics.ResultError
		metrics.IncIngestError("http", "invalid_json")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	rec, err := h.pipeline.Ingest(r.Context(), name, r.URL.Query().Get("api_key"), bag)
	if err != nil {
		result = metrics.ResultError
		metrics.IncIngestError("http", ingestReason(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"message":   "Data written successfully (JSON Body)",
		"timestamp": rec.Timestamp.Format(timeLayout),
	})
}

// handleWriteQuery ingests readings submitted as URL query parameters; every
// parameter except api_key is part of the field bag and arrives as a string.
func (h *Handler) handleWriteQuery(w http.ResponseWriter, r *http.Request, name string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveIngest("http", result, time.Since(start))
	}()

	params := r.URL.Query()
	apiKey := params.Get("api_key")
	if apiKey == "" {
		result = metrics.ResultError
		metrics.IncIngestError("http", "missing_api_key")
		http.Error(w, "API key is required in query parameters", http.StatusBadRequest)
		return
	}

	bag := make(map[string]any, len(params))
	for field, values := range params {
		if field == "api_key" || len(values) == 0 {
			continue
		}
		bag[field] = values[0]
	}

	rec, err := h.pipeline.Ingest(r.Context(), name, apiKey, bag)
	if err != nil {
		result = metrics.ResultError
		metrics.IncIngestError("http", ingestReason(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":   "Data written successfully via query parameters",
		"timestamp": rec.Timestamp.Format(timeLayout),
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, name string) {
	params, err := historyParams(r)
	if err != nil {
		metrics.IncQuery("history", metrics.ResultError)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := h.query.History(r.Context(), name, r.URL.Query().Get("api_key"), params)
	if err != nil {
		metrics.IncQuery("history", metrics.ResultError)
		respondError(w, err)
		return
	}
	metrics.IncQuery("history", metrics.ResultSuccess)

	result := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		result = append(result, flattenRecord(rec, false))
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request, name string) {
	rec, err := h.query.Latest(r.Context(), name, r.URL.Query().Get("api_key"))
	if err != nil {
		metrics.IncQuery("latest", metrics.ResultError)
		respondError(w, err)
		return
	}
	metrics.IncQuery("latest", metrics.ResultSuccess)
	respondJSON(w, http.StatusOK, flattenRecord(rec, true))
}

func (h *Handler) handleLatestField(w http.ResponseWriter, r *http.Request, name, field string) {
	value, err := h.query.LatestField(r.Context(), name, field, r.URL.Query().Get("api_key"))
	if err != nil {
		metrics.IncQuery("latest_field", metrics.ResultError)
		respondError(w, err)
		return
	}
	metrics.IncQuery("latest_field", metrics.ResultSuccess)
	respondJSON(w, http.StatusOK, map[string]any{
		"channel_name": value.ChannelName,
		"field":        value.Field,
		"value":        value.Value,
		"timestamp":    value.Timestamp.Format(timeLayout),
	})
}

func historyParams(r *http.Request) (application.HistoryParams, error) {
	query := r.URL.Query()
	params := application.HistoryParams{Field: query.Get("field_name")}

	if raw := query.Get("start_time"); raw != "" {
		parsed, err := time.Parse(timeLayout, raw)
		if err != nil {
			return params, errors.New("invalid start_time, expected RFC3339")
		}
		params.Start = &parsed
	}
	if raw := query.Get("end_time"); raw != "" {
		parsed, err := time.Parse(timeLayout, raw)
		if err != nil {
			return params, errors.New("invalid end_time, expected RFC3339")
		}
		params.End = &parsed
	}
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return params, errors.New("invalid limit")
		}
		params.Limit = parsed
	}
	return params, nil
}

// flattenRecord emits the original wire shape: timestamp plus field values as
// top-level keys.
func flattenRecord(rec telemetry.DataRecord, withChannel bool) map[string]any {
	body := make(map[string]any, len(rec.Values)+2)
	for field, value := range rec.Values {
		body[field] = value
	}
	body["timestamp"] = rec.Timestamp.Format(timeLayout)
	if withChannel {
		body["channel_name"] = rec.ChannelName
	}
	return body
}

func ingestReason(err error) string {
	switch {
	case errors.Is(err, channel.ErrChannelNotFound):
		return "channel_not_found"
	case errors.Is(err, channel.ErrInvalidAPIKey):
		return "invalid_api_key"
	case errors.Is(err, telemetry.ErrNoValidFields):
		return "no_valid_fields"
	case errors.Is(err, telemetry.ErrStorageUnavailable):
		return "storage"
	default:
		return "internal"
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, channel.ErrChannelNotFound):
		return http.StatusNotFound
	case errors.Is(err, channel.ErrInvalidAPIKey):
		return http.StatusUnauthorized
	case errors.Is(err, channel.ErrInvalidField):
		return http.StatusBadRequest
	case errors.Is(err, telemetry.ErrNoValidFields):
		return http.StatusBadRequest
	case errors.Is(err, telemetry.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, telemetry.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
