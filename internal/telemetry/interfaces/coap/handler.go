// Package coap adapts the ingestion pipeline and query service to a CoAP/UDP
// surface mirroring the HTTP data plane:
//
//	PUT /channels/{name}/data            JSON field bag, api_key URI query
//	GET /channels/{name}/latest          latest record
//	GET /channels/{name}/latest/{field}  latest single field
package coap

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"

	channel "watertank-cloud/internal/channel/domain"
	"watertank-cloud/internal/observability/metrics"
	"watertank-cloud/internal/telemetry/application"
	telemetry "watertank-cloud/internal/telemetry/domain"
)

const timeLayout = time.RFC3339

// Handler serves the CoAP data plane.
type Handler struct {
	pipeline *application.Pipeline
	query    *application.QueryService
	logger   *log.Logger
}

// NewHandler constructs the CoAP handler.
func NewHandler(pipeline *application.Pipeline, query *application.QueryService, logger *log.Logger) (*Handler, error) {
	if pipeline == nil {
		return nil, errors.New("coap handler: nil pipeline")
	}
	if query == nil {
		return nil, errors.New("coap handler: nil query service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{pipeline: pipeline, query: query, logger: logger}, nil
}

// Router returns a mux routing every request through the handler. Paths are
// parsed manually so channel and field names stay free-form segments.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.DefaultHandle(mux.HandlerFunc(h.serve))
	return r
}

func (h *Handler) serve(w mux.ResponseWriter, r *mux.Message) {
	path, err := r.Options().Path()
	if err != nil {
		h.respondText(w, codes.BadRequest, "invalid URI path")
		return
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) < 2 || segments[0] != "channels" {
		h.respondText(w, codes.NotFound, "unknown resource")
		return
	}
	name := segments[1]

	switch {
	case len(segments) == 3 && segments[2] == "data" && r.Code() == codes.PUT:
		h.handlePut(w, r, name)
	case len(segments) == 3 && segments[2] == "latest" && r.Code() == codes.GET:
		h.handleLatest(w, r, name)
	case len(segments) == 4 && segments[2] == "latest" && r.Code() == codes.GET:
		h.handleLatestField(w, r, name, segments[3])
	default:
		h.respondText(w, codes.NotFound, "unknown resource")
	}
}

func (h *Handler) handlePut(w mux.ResponseWriter, r *mux.Message, name string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveIngest("coap", result, time.Since(start))
	}()

	apiKey, ok := uriQuery(r, "api_key")
	if !ok {
		result = metrics.ResultError
		metrics.IncIngestError("coap", "missing_api_key")
		h.respondText(w, codes.BadRequest, "API key is required in URI query (api_key=...)")
		return
	}

	payload, err := r.ReadBody()
	if err != nil || len(payload) == 0 {
		result = metrics.ResultError
		metrics.IncIngestError("coap", "empty_payload")
		h.respondText(w, codes.BadRequest, "empty payload")
		return
	}
	var bag map[string]any
	if err := json.Unmarshal(payload, &bag); err != nil {
		result = metrics.ResultError
		metrics.IncIngestError("coap", "invalid_json")
		h.respondText(w, codes.BadRequest, "invalid JSON payload")
		return
	}

	rec, err := h.pipeline.Ingest(r.Context(), name, apiKey, bag)
	if err != nil {
		result = metrics.ResultError
		metrics.IncIngestError("coap", "pipeline")
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, codes.Created, map[string]any{
		"message":   "Data written successfully via CoAP",
		"timestamp": rec.Timestamp.Format(timeLayout),
	})
}

func (h *Handler) handleLatest(w mux.ResponseWriter, r *mux.Message, name string) {
	apiKey, ok := uriQuery(r, "api_key")
	if !ok {
		h.respondText(w, codes.BadRequest, "API key is required")
		return
	}
	rec, err := h.query.Latest(r.Context(), name, apiKey)
	if err != nil {
		metrics.IncQuery("latest", metrics.ResultError)
		h.respondError(w, err)
		return
	}
	metrics.IncQuery("latest", metrics.ResultSuccess)

	body := make(map[string]any, len(rec.Values)+1)
	for field, value := range rec.Values {
		body[field] = value
	}
	body["timestamp"] = rec.Timestamp.Format(timeLayout)
	h.respondJSON(w, codes.Content, body)
}

func (h *Handler) handleLatestField(w mux.ResponseWriter, r *mux.Message, name, field string) {
	apiKey, ok := uriQuery(r, "api_key")
	if !ok {
		h.respondText(w, codes.BadRequest, "API key is required")
		return
	}
	value, err := h.query.LatestField(r.Context(), name, field, apiKey)
	if err != nil {
		metrics.IncQuery("latest_field", metrics.ResultError)
		h.respondError(w, err)
		return
	}
	metrics.IncQuery("latest_field", metrics.ResultSuccess)
	h.respondJSON(w, codes.Content, map[string]any{
		"channel_name": value.ChannelName,
		"field":        value.Field,
		"value":        value.Value,
		"timestamp":    value.Timestamp.Format(timeLayout),
	})
}

func (h *Handler) respondJSON(w mux.ResponseWriter, code codes.Code, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		h.logger.Printf("coap: marshal response: %v", err)
		h.respondText(w, codes.InternalServerError, "internal error")
		return
	}
	if err := w.SetResponse(code, message.AppJSON, bytes.NewReader(payload)); err != nil {
		h.logger.Printf("coap: set response: %v", err)
	}
}

func (h *Handler) respondText(w mux.ResponseWriter, code codes.Code, text string) {
	if err := w.SetResponse(code, message.TextPlain, bytes.NewReader([]byte(text))); err != nil {
		h.logger.Printf("coap: set response: %v", err)
	}
}

func (h *Handler) respondError(w mux.ResponseWriter, err error) {
	h.respondText(w, codeFor(err), err.Error())
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, channel.ErrChannelNotFound):
		return codes.NotFound
	case errors.Is(err, channel.ErrInvalidAPIKey):
		return codes.Unauthorized
	case errors.Is(err, channel.ErrInvalidField):
		return codes.BadRequest
	case errors.Is(err, telemetry.ErrNoValidFields):
		return codes.BadRequest
	case errors.Is(err, telemetry.ErrNoData):
		return codes.NotFound
	default:
		return codes.InternalServerError
	}
}

func uriQuery(r *mux.Message, key string) (string, bool) {
	queries, err := r.Options().Queries()
	if err != nil {
		return "", false
	}
	for _, query := range queries {
		k, v, found := strings.Cut(query, "=")
		if found && k == key && v != "" {
			return v, true
		}
	}
	return "", false
}
