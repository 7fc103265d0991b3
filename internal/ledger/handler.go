package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ledgergate/ledgergate/internal/platform/httpx"
)

// Handler exposes the gateway over HTTP to the business subsystems.
type Handler struct {
	logger   *slog.Logger
	gateway  Gateway
	validate *validator.Validate
}

// NewHandler constructs the HTTP handler.
func NewHandler(logger *slog.Logger, gateway Gateway) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, gateway: gateway, validate: validator.New()}
}

// Create handles POST /ledger/entries.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in CreateEntryInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", "request body is not valid JSON")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entry, err := h.gateway.CreateEntry(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

// Get handles GET /ledger/entries/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "entry id must be a positive integer")
		return
	}
	entry, err := h.gateway.GetEntry(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

// List handles GET /ledger/entries.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEntryFilter(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	entries, err := h.gateway.ListEntries(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		request     *RequestValidationError
		source      *SourceLinkageError
		line        *LineValidationError
		unbalanced  *UnbalancedEntryError
		consistency *InternalConsistencyError
	)
	switch {
	case errors.As(err, &request):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", request.Error())
	case errors.As(err, &source):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Source Rejected", source.Error())
	case errors.As(err, &line):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Line", line.Error())
	case errors.As(err, &unbalanced):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unbalanced Entry", unbalanced.Error())
	case errors.Is(err, ErrNoLines):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unbalanced Entry", err.Error())
	case errors.Is(err, ErrConcurrentOperation):
		httpx.Problem(w, http.StatusConflict, "Operation In Flight", err.Error())
	case errors.Is(err, ErrEntryNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &consistency):
		h.logger.Error("consistency failure surfaced to handler", slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	default:
		h.logger.Error("ledger request failed", slog.Any("error", err), slog.String("path", r.URL.Path))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseEntryFilter(r *http.Request) (EntryFilter, error) {
	q := r.URL.Query()
	filter := EntryFilter{
		Actor:        q.Get("actor"),
		SourceModule: q.Get("source_module"),
	}
	if raw := q.Get("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return EntryFilter{}, errors.New("from must be RFC3339")
		}
		filter.From = ts
	}
	if raw := q.Get("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return EntryFilter{}, errors.New("to must be RFC3339")
		}
		filter.To = ts
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return EntryFilter{}, errors.New("limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return EntryFilter{}, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = n
	}
	return filter, nil
}
