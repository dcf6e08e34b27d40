// Package tiles turns a composite image into a map tile URL template.
package tiles

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mohammed-shakir/eo-timeseries/internal/core/apperr"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/model"
	"github.com/mohammed-shakir/eo-timeseries/internal/remote"
)

// OutlineWidth and OutlineVis are used to paint feature collection edges.
const OutlineWidth = 2

func OutlineVis() *model.VisParams {
	mx := 1.0
	return &model.VisParams{Max: &mx, Palette: []string{"black"}}
}

type Mapper interface {
	MapID(ctx context.Context, img remote.Image, vis *model.VisParams) (remote.MapID, error)
	PaintMapID(ctx context.Context, featureCollection string, width int, vis *model.VisParams) (remote.MapID, error)
}

// Handle is what a map client needs to fetch tiles. URL keeps the {z}, {x}
// and {y} placeholders.
type Handle struct {
	URL   string `json:"url"`
	MapID string `json:"mapid"`
	Token string `json:"token"`
}

type Publisher struct {
	remote   Mapper
	template string
	logger   *slog.Logger
}

func NewPublisher(m Mapper, urlTemplate string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{remote: m, template: urlTemplate, logger: logger}
}

// Publish issues a map id for img. On failure the error is logged and
// returned with no handle.
func (p *Publisher) Publish(ctx context.Context, img remote.Image, vis *model.VisParams) (Handle, error) {
	m, err := p.remote.MapID(ctx, img, vis)
	if err != nil {
		p.logger.ErrorContext(ctx, "map id issuance failed",
			"collection", img.Source.ID,
			"reducer", img.Reducer,
			"err", err)
		return Handle{}, remoteErr("tiles.Publish", err)
	}
	return p.handle(m), nil
}

// PublishOutline paints the edges of a server-side feature collection.
func (p *Publisher) PublishOutline(ctx context.Context, featureCollection string) (Handle, error) {
	if strings.TrimSpace(featureCollection) == "" {
		return Handle{}, apperr.Validation("tiles.PublishOutline", "a feature collection is required")
	}
	m, err := p.remote.PaintMapID(ctx, featureCollection, OutlineWidth, OutlineVis())
	if err != nil {
		p.logger.ErrorContext(ctx, "outline map id issuance failed",
			"feature_collection", featureCollection,
			"err", err)
		return Handle{}, remoteErr("tiles.PublishOutline", err)
	}
	return p.handle(m), nil
}

func (p *Publisher) handle(m remote.MapID) Handle {
	r := strings.NewReplacer("{mapid}", m.MapID, "{token}", m.Token)
	return Handle{URL: r.Replace(p.template), MapID: m.MapID, Token: m.Token}
}

// remoteErr keeps classified errors and marks anything else as a remote
// failure, since the only work done here is the remote round trip.
func remoteErr(op string, err error) error {
	if apperr.KindOf(err) == apperr.KindUnexpected {
		return apperr.Remote(op, "map tiles are unavailable", err)
	}
	return apperr.Wrap(op, err)
}
