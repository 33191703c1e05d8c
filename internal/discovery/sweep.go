// Package discovery validates the route plan before the crawl spends
// budget on it: a cheap HTTP sweep checks which routes actually load
// and what they contain, and a browser pass captures reference
// screenshots of the loadable ones.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// SweepConfig controls sweep pacing and patience.
type SweepConfig struct {
	PageTimeout    time.Duration
	RequestsPerSec float64
	UserAgent      string
}

// DefaultPageTimeout bounds one route probe plus its screenshot.
const DefaultPageTimeout = 45 * time.Second

// Sweeper probes planned routes over plain HTTP and screenshots the
// ones that load.
type Sweeper struct {
	cfg     SweepConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(cfg SweepConfig, logger *zap.Logger) *Sweeper {
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = DefaultPageTimeout
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		logger:  logger,
	}
}

// Sweep probes every route in the plan against baseURL. When a driver
// is supplied, loadable routes also get a reference screenshot stored
// through blobs; screenshot failures degrade to an empty URL rather
// than failing the sweep.
func (s *Sweeper) Sweep(ctx context.Context, jobID, baseURL string, plan docs.CrawlPlan, d docs.Driver, blobs docs.BlobStore) ([]docs.RouteCheck, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}

	checks := make([]docs.RouteCheck, 0, len(plan.Routes))
	for _, route := range plan.Routes {
		if err := s.limiter.Wait(ctx); err != nil {
			return checks, fmt.Errorf("sweep pacing: %w", err)
		}

		target := resolveRoute(base, route.Path)
		check := s.probe(target, route)
		if check.Loaded && d != nil && blobs != nil {
			check.ScreenshotURL = s.screenshot(ctx, jobID, target, route, d, blobs)
		}
		s.logger.Debug("route probed",
			zap.String("route", route.Path),
			zap.Bool("loaded", check.Loaded),
			zap.Int("status", check.StatusCode),
		)
		checks = append(checks, check)
	}
	return checks, nil
}

// probe fetches one route without a browser and records status plus
// coarse content signals (forms, tables).
func (s *Sweeper) probe(target string, route docs.Route) docs.RouteCheck {
	check := docs.RouteCheck{Route: route}

	opts := []colly.CollectorOption{colly.AllowURLRevisit()}
	if s.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(s.cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)
	c.SetRequestTimeout(s.cfg.PageTimeout)

	c.OnResponse(func(r *colly.Response) {
		check.StatusCode = r.StatusCode
		check.Loaded = r.StatusCode < 400
	})
	c.OnHTML("form", func(*colly.HTMLElement) { check.HasForms = true })
	c.OnHTML("table", func(*colly.HTMLElement) { check.HasTables = true })
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			check.StatusCode = r.StatusCode
		}
		check.Error = err.Error()
	})

	if err := c.Visit(target); err != nil && check.Error == "" {
		check.Error = err.Error()
	}
	c.Wait()
	return check
}

func (s *Sweeper) screenshot(ctx context.Context, jobID, target string, route docs.Route, d docs.Driver, blobs docs.BlobStore) string {
	shotCtx, cancel := context.WithTimeout(ctx, s.cfg.PageTimeout)
	defer cancel()

	if err := d.Navigate(shotCtx, target); err != nil {
		s.logger.Warn("sweep screenshot navigation failed", zap.String("route", route.Path), zap.Error(err))
		return ""
	}
	if err := d.Settle(shotCtx, 0, s.cfg.PageTimeout); err != nil {
		return ""
	}
	shot, err := d.Screenshot(shotCtx)
	if err != nil {
		s.logger.Warn("sweep screenshot failed", zap.String("route", route.Path), zap.Error(err))
		return ""
	}

	path := fmt.Sprintf("jobs/%s/sweep/%s.png", jobID, slugifyRoute(route.Path))
	url, err := blobs.PutObject(shotCtx, path, "image/png", shot)
	if err != nil {
		s.logger.Warn("sweep screenshot upload failed", zap.String("route", route.Path), zap.Error(err))
		return ""
	}
	return url
}

func resolveRoute(base *url.URL, path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return base.String()
	}
	return base.ResolveReference(ref).String()
}

func slugifyRoute(path string) string {
	slug := strings.Trim(path, "/")
	if slug == "" {
		return "root"
	}
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, slug)
	return slug
}
