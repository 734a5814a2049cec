// Package nomads downloads GFS 0.25 degree subsets from the NOAA NOMADS
// grib filter and decodes them into grid points.
package nomads

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/joliver3/gfs-winter-weather/internal/domain"
)

// DefaultBaseURL is the GFS 0.25 degree grib filter endpoint.
const DefaultBaseURL = "https://nomads.ncep.noaa.gov/cgi-bin/filter_gfs_0p25.pl"

const (
	// minBodySize rejects empty or truncated subsets before decoding.
	minBodySize  = 100
	maxBodySize  = 64 << 20
	previewBytes = 300
	htmlSniff    = 500
)

// Client implements domain.GridFetcher against NOMADS.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	decoder    Decoder
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewClient creates a NOMADS client limited to rps requests per second with
// the given burst; rps <= 0 disables the limit. Each request is bounded by
// timeout.
func NewClient(baseURL string, timeout time.Duration, rps float64, burst int, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
		decoder: GribDecoder{},
		clock:   clockwork.NewRealClock(),
		logger:  logger,
	}
}

// Fetch downloads and decodes one grid. A missing run or lead hour is
// reported as domain.ErrRunNotPublished.
func (c *Client) Fetch(ctx context.Context, key domain.GridKey) (domain.Grid, error) {
	status, body, err := c.download(ctx, key)
	if err != nil {
		return domain.Grid{}, err
	}
	if err := checkBody(status, body); err != nil {
		return domain.Grid{}, fmt.Errorf("fetch %s: %w", key, err)
	}

	points, err := c.decoder.Decode(key, body)
	if err != nil {
		return domain.Grid{}, fmt.Errorf("fetch %s: %w: %w", key, domain.ErrDecode, err)
	}
	if err := requireVariables(key, points); err != nil {
		return domain.Grid{}, fmt.Errorf("fetch %s: %w", key, err)
	}

	c.logger.Debug("grid fetched", "key", key.String(), "points", len(points), "bytes", len(body))
	return domain.Grid{Key: key, Points: points, FetchedAt: c.clock.Now().UTC()}, nil
}

// Probe performs one request and reports what came back without failing on
// bad responses.
func (c *Client) Probe(ctx context.Context, key domain.GridKey) domain.ProbeReport {
	report := domain.ProbeReport{RunTried: key.Run.String(), LeadHour: key.LeadHour}

	status, body, err := c.download(ctx, key)
	report.StatusCode = status
	report.ContentLength = len(body)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	report.IsGRIB = status == http.StatusOK && isGRIB(body)
	if !report.IsGRIB {
		report.ResponsePreview = string(body[:min(len(body), previewBytes)])
		if err := checkBody(status, body); err != nil {
			report.Error = err.Error()
		}
		return report
	}

	points, err := c.decoder.Decode(key, body)
	if err != nil {
		report.Error = fmt.Sprintf("decode: %v", err)
		return report
	}
	for _, p := range points {
		if !slices.Contains(report.ParsedVariables, string(p.Variable)) {
			report.ParsedVariables = append(report.ParsedVariables, string(p.Variable))
		}
	}
	slices.Sort(report.ParsedVariables)
	if err := requireVariables(key, points); err != nil {
		report.Error = err.Error()
	}
	return report
}

// RequestURL builds the grib filter URL for key.
func (c *Client) RequestURL(key domain.GridKey) string {
	cycle := key.Run.Cycle()
	params := url.Values{
		"dir":                  {fmt.Sprintf("/gfs.%s/%s/atmos", key.Run.Date(), cycle)},
		"file":                 {fmt.Sprintf("gfs.t%sz.pgrb2.0p25.f%03d", cycle, key.LeadHour)},
		"var_TMP":              {"on"},
		"var_APCP":             {"on"},
		"lev_2_m_above_ground": {"on"},
		"lev_surface":          {"on"},
		"subregion":            {"on"},
		"leftlon":              {formatCoord(key.BBox.West)},
		"rightlon":             {formatCoord(key.BBox.East)},
		"toplat":               {formatCoord(key.BBox.North)},
		"bottomlat":            {formatCoord(key.BBox.South)},
	}
	return c.baseURL + "?" + params.Encode()
}

func (c *Client) download(ctx context.Context, key domain.GridKey) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("rate limit wait canceled: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.RequestURL(key), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("nomads request %s: %w: %w", key, domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, body, fmt.Errorf("read nomads response %s: %w: %w", key, domain.ErrUpstream, err)
	}
	return resp.StatusCode, body, nil
}

// checkBody maps the status and body of a grib filter response to an error.
// NOMADS answers 200 with an HTML page when a file is not on the server yet.
func checkBody(status int, body []byte) error {
	switch {
	case status == http.StatusNotFound:
		return domain.ErrRunNotPublished
	case status != http.StatusOK:
		return fmt.Errorf("%w: status %d", domain.ErrUpstream, status)
	case isHTML(body):
		return fmt.Errorf("%w: nomads returned an html page", domain.ErrRunNotPublished)
	case len(body) < minBodySize:
		return fmt.Errorf("%w: body too small (%d bytes)", domain.ErrDecode, len(body))
	case !isGRIB(body):
		return fmt.Errorf("%w: body is not grib2", domain.ErrDecode)
	default:
		return nil
	}
}

func requireVariables(key domain.GridKey, points []domain.GridPoint) error {
	required := []domain.Variable{domain.VarTemperature}
	// f000 is an analysis and carries no accumulation.
	if key.LeadHour > 0 {
		required = append(required, domain.VarPrecipitation)
	}
	var missing []error
	for _, v := range required {
		if !slices.ContainsFunc(points, func(p domain.GridPoint) bool { return p.Variable == v }) {
			missing = append(missing, fmt.Errorf("%w: missing %s", domain.ErrDecode, v))
		}
	}
	return errors.Join(missing...)
}

func isGRIB(body []byte) bool {
	return len(body) >= minBodySize && bytes.HasPrefix(body, []byte("GRIB"))
}

func isHTML(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if bytes.HasPrefix(trimmed, []byte("<")) || bytes.HasPrefix(trimmed, []byte("%3C")) {
		return true
	}
	return bytes.Contains(bytes.ToLower(body[:min(len(body), htmlSniff)]), []byte("<html"))
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
