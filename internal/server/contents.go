package server

import (
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/reelgate/climaxpay-go/internal/catalog"
	errordefs "github.com/reelgate/climaxpay-go/internal/errors"
	"github.com/reelgate/climaxpay-go/internal/model"
)

func viewerFrom(r *http.Request) catalog.Viewer {
	p, ok := principalFrom(r.Context())
	if !ok {
		return catalog.Viewer{}
	}
	return catalog.Viewer{UserID: p.UserID, Admin: p.IsAdmin()}
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errordefs.Validation(name, "must be a non-negative integer")
	}
	return n, nil
}

// handleListContents lists catalog items. Anonymous callers are allowed.
func (m *Mux) handleListContents(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handleListContents")
	defer span.End()

	limit, err := queryInt(r, "limit", DefaultListLimit)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	if limit == 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	query := model.ContentQuery{
		Category:        q.Get("category"),
		Genre:           q.Get("genre"),
		IncludeInactive: q.Get("includeInactive") == "true",
		Limit:           limit,
		Offset:          offset,
	}
	span.SetAttributes(attribute.String("category", query.Category), attribute.Int("limit", limit))

	items, err := m.catalog.List(ctx, query, viewerFrom(r))
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []model.ContentItem{}
	}
	m.writeSuccess(w, http.StatusOK, items)
}

// handleGetContent returns one item's metadata.
func (m *Mux) handleGetContent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	item, err := m.catalog.Get(r.Context(), id, viewerFrom(r))
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, item)
}

// handlePlayback returns the stream URL and gating parameters.
func (m *Mux) handlePlayback(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "handlePlayback")
	defer span.End()

	id := r.PathValue("id")
	span.SetAttributes(attribute.String("content_id", id))
	info, err := m.catalog.Playback(ctx, id, viewerFrom(r))
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, info)
}

func (m *Mux) handleCreateContent(w http.ResponseWriter, r *http.Request) {
	var in model.ContentInput
	if err := decodeJSON(w, r, &in); err != nil {
		m.writeError(w, r, err)
		return
	}
	item, err := m.catalog.Create(r.Context(), in)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusCreated, item)
}

func (m *Mux) handleUpdateContent(w http.ResponseWriter, r *http.Request) {
	var in model.ContentInput
	if err := decodeJSON(w, r, &in); err != nil {
		m.writeError(w, r, err)
		return
	}
	item, err := m.catalog.Update(r.Context(), r.PathValue("id"), in)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	m.writeSuccess(w, http.StatusOK, item)
}
