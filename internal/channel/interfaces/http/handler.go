package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"watertank-cloud/internal/channel/application"
	channel "watertank-cloud/internal/channel/domain"
	telemetry "watertank-cloud/internal/telemetry/domain"
)

// Handler serves channel registration and schema maintenance under /channels.
// Data subroutes (/channels/{name}/data, /update, /export) are forwarded to
// the telemetry adapter.
type Handler struct {
	registry *application.RegistryService
	data     http.Handler
}

// NewHandler constructs the channel handler.
func NewHandler(registry *application.RegistryService, data http.Handler) (*Handler, error) {
	if registry == nil {
		return nil, errors.New("channel handler: nil registry")
	}
	return &Handler{registry: registry, data: data}, nil
}

// ServeHTTP routes requests under /channels.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/channels"), "/")
	if rest == "" {
		switch r.Method {
		case http.MethodPost:
			h.handleRegister(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	segments := strings.Split(rest, "/")
	name := segments[0]
	if len(segments) >= 2 {
		switch segments[1] {
		case "data", "update", "export":
			if h.data != nil {
				h.data.ServeHTTP(w, r)
				return
			}
		case "fields":
			if len(segments) == 3 && r.Method == http.MethodDelete {
				h.handleRemoveField(w, r, name, segments[2])
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r, name)
	case http.MethodPatch:
		h.handleUpdateFields(w, r, name)
	case http.MethodDelete:
		h.handleDelete(w, r, name)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelName   string         `json:"channel_name"`
		Fields        []string       `json:"fields"`
		InitialValues map[string]any `json:"initial_values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ChannelName == "" {
		http.Error(w, "channel_name is required", http.StatusBadRequest)
		return
	}

	ch, err := h.registry.Register(r.Context(), req.ChannelName, req.Fields, req.InitialValues)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"channel_name": ch.Name,
		"api_key":      ch.APIKey,
		"fields":       ch.Fields,
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.registry.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	result := make([]map[string]any, 0, len(summaries))
	for _, summary := range summaries {
		result = append(result, map[string]any{
			"channel_name": summary.Name,
			"fields":       summary.Fields,
		})
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, name string) {
	ch, err := h.registry.Get(r.Context(), name, r.URL.Query().Get("api_key"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"channel_name": ch.Name,
		"api_key":      ch.APIKey,
		"fields":       ch.Fields,
	})
}

func (h *Handler) handleUpdateFields(w http.ResponseWriter, r *http.Request, name string) {
	var req struct {
		AddFields    []string `json:"add_fields"`
		RemoveFields []string `json:"remove_fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	apiKey := r.URL.Query().Get("api_key")
	fields, err := h.registry.AddFields(r.Context(), name, apiKey, req.AddFields)
	if err != nil {
		respondError(w, err)
		return
	}
	if len(req.RemoveFields) > 0 {
		fields, err = h.registry.RemoveFields(r.Context(), name, apiKey, req.RemoveFields)
		if err != nil {
			respondError(w, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Channel fields updated",
		"fields":  fields,
	})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, name string) {
	if err := h.registry.Delete(r.Context(), name, r.URL.Query().Get("api_key")); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Channel '" + name + "' and all related data deleted",
	})
}

func (h *Handler) handleRemoveField(w http.ResponseWriter, r *http.Request, name, field string) {
	if err := h.registry.RemoveField(r.Context(), name, r.URL.Query().Get("api_key"), field); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Field '" + field + "' deleted from channel '" + name + "' (set to 'N/A' in all data)",
	})
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
	case errors.Is(err, channel.ErrDuplicateChannel):
		return http.StatusBadRequest
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
