// Package router holds the HTTP handlers in front of the analysis service.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/eo-timeseries/internal/analysis"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/apperr"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/observability"
	"github.com/mohammed-shakir/eo-timeseries/internal/tiles"
	"github.com/mohammed-shakir/eo-timeseries/internal/timeseries"
)

const (
	RouteTimeSeries      = "/earth-engine/get-time-series-plot"
	RouteImageCollection = "/earth-engine/get-image-collection"
	RouteFeatureTileURL  = "/earth-engine/get-feature-collection-tile-url"
	RouteCatalog         = "/earth-engine/catalog"
)

const maxBodyBytes = 4 << 20

// Analyzer serves validated requests.
type Analyzer interface {
	TimeSeries(ctx context.Context, req analysis.SeriesRequest) (analysis.SeriesResult, error)
	ImageCollection(ctx context.Context, req analysis.TileRequest) (tiles.Handle, error)
	FeatureOutline(ctx context.Context, featureCollection string) (tiles.Handle, error)
	Catalog() analysis.CatalogView
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument records the request under route rather than the raw path.
func instrument(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		fn(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

type seriesResponse struct {
	Success  bool                 `json:"success"`
	Title    string               `json:"title,omitempty"`
	Table    *timeseries.Table    `json:"table,omitempty"`
	Failures []timeseries.Failure `json:"failures,omitempty"`
	Error    string               `json:"error,omitempty"`
}

func TimeSeries(logger *slog.Logger, a Analyzer) http.HandlerFunc {
	return instrument(RouteTimeSeries, func(w http.ResponseWriter, r *http.Request) {
		f, err := readFields(r)
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		scale, err := f.float("scale")
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		res, err := a.TimeSeries(r.Context(), analysis.SeriesRequest{
			Platform:  f.get("platform"),
			Sensor:    f.get("sensor"),
			Product:   f.get("product"),
			IndexName: f.get("index_name"),
			From:      f.get("start_date"),
			To:        f.get("end_date"),
			Reducer:   f.get("reducer"),
			Scale:     scale,
			Geometry:  []byte(f.get("geometry")),
		})
		if err != nil {
			logFailure(r, logger, err)
			writeJSON(w, statusFor(err), seriesResponse{Error: apperr.Public(err), Failures: res.Failures})
			return
		}
		writeJSON(w, http.StatusOK, seriesResponse{
			Success:  true,
			Title:    res.Title,
			Table:    &res.Table,
			Failures: res.Failures,
		})
	})
}

type tileResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	MapID   string `json:"mapid,omitempty"`
	Token   string `json:"token,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ImageCollection(logger *slog.Logger, a Analyzer) http.HandlerFunc {
	return instrument(RouteImageCollection, func(w http.ResponseWriter, r *http.Request) {
		f, err := readFields(r)
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		h, err := a.ImageCollection(r.Context(), analysis.TileRequest{
			Platform: f.get("platform"),
			Sensor:   f.get("sensor"),
			Product:  f.get("product"),
			From:     f.get("start_date"),
			To:       f.get("end_date"),
			Reducer:  f.get("reducer"),
		})
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, tileResponse{Success: true, URL: h.URL, MapID: h.MapID, Token: h.Token})
	})
}

func FeatureCollectionTileURL(logger *slog.Logger, a Analyzer) http.HandlerFunc {
	return instrument(RouteFeatureTileURL, func(w http.ResponseWriter, r *http.Request) {
		h, err := a.FeatureOutline(r.Context(), strings.TrimSpace(r.URL.Query().Get("featureCollection")))
		if err != nil {
			fail(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, tileResponse{Success: true, URL: h.URL, MapID: h.MapID, Token: h.Token})
	})
}

func Catalog(a Analyzer) http.HandlerFunc {
	return instrument(RouteCatalog, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
			analysis.CatalogView
		}{true, a.Catalog()})
	})
}

// statusFor maps an error kind onto the response status.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindCatalog:
		return http.StatusBadRequest
	case apperr.KindRemote:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	logFailure(r, logger, err)
	writeJSON(w, statusFor(err), tileResponse{Error: apperr.Public(err)})
}

func logFailure(r *http.Request, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindUnexpected {
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		return
	}
	logger.InfoContext(r.Context(), "request rejected",
		"path", r.URL.Path, "kind", kind.String(), "err", err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// fields are the request parameters, from a form or a JSON object with the
// same names.
type fields map[string]string

func (f fields) get(k string) string { return strings.TrimSpace(f[k]) }

func (f fields) float(k string) (float64, error) {
	s := f.get(k)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, apperr.Validationf("router.fields", "%s must be a number, got %q", k, s)
	}
	return v, nil
}

func readFields(r *http.Request) (fields, error) {
	const op = "router.readFields"
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var raw map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, apperr.Validationf(op, "malformed JSON body: %v", err)
		}
		out := make(fields, len(raw))
		for k, v := range raw {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				out[k] = s
				continue
			}
			if string(v) != "null" {
				out[k] = string(v)
			}
		}
		return out, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, apperr.Validationf(op, "malformed form body: %v", err)
	}
	out := make(fields, len(r.Form))
	for k := range r.Form {
		out[k] = r.Form.Get(k)
	}
	return out, nil
}

// Describe lists the routes for startup logging.
func Describe() string {
	return fmt.Sprintf("POST %s, POST %s, GET %s, GET %s",
		RouteTimeSeries, RouteImageCollection, RouteFeatureTileURL, RouteCatalog)
}
