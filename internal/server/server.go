// Package server exposes the output GeoPackage layers as GeoJSON over a
// read-only HTTP API.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/tract-rollup/internal/emit"
	"github.com/sells-group/tract-rollup/internal/geoid"
)

// LayerReader is the part of emit.GeoPackageReader the API needs.
type LayerReader interface {
	Layers(ctx context.Context) ([]emit.LayerInfo, error)
	ReadLayer(ctx context.Context, name string) (*emit.FeatureLayer, error)
}

type handler struct {
	reader LayerReader
	log    *zap.Logger
}

// New returns the API router. An empty allowedOrigins allows any origin.
func New(reader LayerReader, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	h := &handler{
		reader: reader,
		log:    zap.L().With(zap.String("component", "server")),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.health)
	r.Route("/layers", func(r chi.Router) {
		r.Get("/", h.listLayers)
		r.Get("/{layer}", h.getLayer)
		r.Get("/{layer}/{id}", h.getFeature)
	})
	return r
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listLayers(w http.ResponseWriter, r *http.Request) {
	layers, err := h.reader.Layers(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if layers == nil {
		layers = []emit.LayerInfo{}
	}
	writeJSON(w, http.StatusOK, layers)
}

func (h *handler) getLayer(w http.ResponseWriter, r *http.Request) {
	fl, err := h.reader.ReadLayer(r.Context(), chi.URLParam(r, "layer"))
	if err != nil {
		h.fail(w, err)
		return
	}
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, fl.Len())}
	idCol := idColumn(fl)
	for i := range fl.Rows {
		fc.Features = append(fc.Features, feature(fl, i, idCol))
	}
	writeJSON(w, http.StatusOK, fc)
}

func (h *handler) getFeature(w http.ResponseWriter, r *http.Request) {
	fl, err := h.reader.ReadLayer(r.Context(), chi.URLParam(r, "layer"))
	if err != nil {
		h.fail(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	idCol := idColumn(fl)
	for i := range fl.Rows {
		if fl.Cell(i, idCol) == id {
			writeJSON(w, http.StatusOK, feature(fl, i, idCol))
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "feature " + id + " not found"})
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	if eris.Is(err, emit.ErrLayerNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	h.log.Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

// idColumn picks the feature id: a tract identifier column when present,
// else the first attribute (the zone column on the zones layer).
func idColumn(fl *emit.FeatureLayer) string {
	if key, err := geoid.FindKey(fl.Table, geoid.DefaultCandidates); err == nil {
		return key
	}
	if len(fl.Columns) > 0 {
		return fl.Columns[0]
	}
	return ""
}

func feature(fl *emit.FeatureLayer, row int, idCol string) *geojson.Feature {
	props := make(map[string]interface{}, len(fl.Columns)+1)
	for c, col := range fl.Columns {
		v := fl.Rows[row][c]
		switch {
		case v == "":
			props[col] = nil
		case fl.Numeric[col]:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				props[col] = f
			} else {
				props[col] = v
			}
		default:
			props[col] = v
		}
	}
	if len(fl.FIDs) > row {
		props["fid"] = fl.FIDs[row]
	}

	f := &geojson.Feature{Properties: props}
	if idCol != "" {
		f.ID = fl.Cell(row, idCol)
	}
	if g := fl.Geoms[row]; g != nil {
		f.Geometry = g
	}
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
