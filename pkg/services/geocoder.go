package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ropable/prs/pkg/apperrors"
	"github.com/ropable/prs/pkg/config"
)

// Feature is one cadastral feature returned by the parcel-identification
// service: a centroid plus zero or more polygon rings.
type Feature struct {
	CentroidLongitude float64
	CentroidLatitude  float64
	// Rings holds polygon rings, each a sequence of [x, y] vertices.
	Rings [][][]float64
}

// RingWKT renders ring i as a POLYGON in WKT, closing the ring if the source
// left it open. Returns ErrGeometry for a degenerate ring.
func (f Feature) RingWKT(i int) (string, error) {
	if i < 0 || i >= len(f.Rings) || len(f.Rings[i]) < 3 {
		return "", fmt.Errorf("feature ring %d: %w", i, apperrors.ErrGeometry)
	}
	ring := f.Rings[i]
	var b strings.Builder
	b.WriteString("POLYGON((")
	for n, v := range ring {
		if len(v) < 2 {
			return "", fmt.Errorf("feature ring %d vertex %d: %w", i, n, apperrors.ErrGeometry)
		}
		if n > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%g %g", v[0], v[1])
	}
	first, last := ring[0], ring[len(ring)-1]
	if first[0] != last[0] || first[1] != last[1] {
		fmt.Fprintf(&b, ", %g %g", first[0], first[1])
	}
	b.WriteString("))")
	return b.String(), nil
}

// Geocoder queries an external parcel-identification service by parcel
// identifier (PIN). Treated as a fallible, slow remote collaborator.
type Geocoder interface {
	QueryParcel(ctx context.Context, pin string) ([]Feature, error)
}

// slipGeocoder implements Geocoder against the Landgate SLIP ESRI endpoint.
type slipGeocoder struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	logger     *zap.Logger
}

// NewSLIPGeocoder creates a Geocoder for the configured SLIP service.
func NewSLIPGeocoder(cfg *config.SLIPConfig, logger *zap.Logger) Geocoder {
	return &slipGeocoder{
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		baseURL:    cfg.URL,
		username:   cfg.Username,
		password:   cfg.Password,
		logger:     logger,
	}
}

// slipResponse mirrors the ESRI feature-query response shape.
type slipResponse struct {
	Features []struct {
		Attributes struct {
			CentroidLongitude float64 `json:"centroid_longitude"`
			CentroidLatitude  float64 `json:"centroid_latitude"`
		} `json:"attributes"`
		Geometry struct {
			Rings [][][]float64 `json:"rings"`
		} `json:"geometry"`
	} `json:"features"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *slipGeocoder) QueryParcel(ctx context.Context, pin string) ([]Feature, error) {
	params := url.Values{}
	params.Set("where", fmt.Sprintf("polygon_number = %s", pin))
	params.Set("outFields", "*")
	params.Set("outSR", "4326")
	params.Set("f", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/query?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build SLIP request: %w", err)
	}
	if g.username != "" {
		req.SetBasicAuth(g.username, g.password)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: query SLIP for PIN %s: %v", apperrors.ErrGateway, pin, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: SLIP returned HTTP %d for PIN %s", apperrors.ErrGateway, resp.StatusCode, pin)
	}

	var body slipResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode SLIP response for PIN %s: %v", apperrors.ErrGateway, pin, err)
	}
	if body.Error != nil {
		return nil, fmt.Errorf("%w: SLIP error %d: %s", apperrors.ErrGateway, body.Error.Code, body.Error.Message)
	}

	features := make([]Feature, 0, len(body.Features))
	for _, f := range body.Features {
		features = append(features, Feature{
			CentroidLongitude: f.Attributes.CentroidLongitude,
			CentroidLatitude:  f.Attributes.CentroidLatitude,
			Rings:             f.Geometry.Rings,
		})
	}
	return features, nil
}
