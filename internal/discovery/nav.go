package discovery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// NavDiscoverer derives a route plan from the live UI. It is the
// degraded-mode substitute used when code analysis produced no usable
// routes: sign in, look at the navigation, and document what is there.
type NavDiscoverer struct {
	finder docs.NavigationFinder
	logger *zap.Logger
}

// NewNavDiscoverer creates a NavDiscoverer.
func NewNavDiscoverer(finder docs.NavigationFinder, logger *zap.Logger) *NavDiscoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NavDiscoverer{finder: finder, logger: logger}
}

// Discover observes the current page and asks the finder which in-app
// destinations its navigation exposes. Duplicate paths collapse to the
// first occurrence.
func (n *NavDiscoverer) Discover(ctx context.Context, d docs.Driver) (docs.CrawlPlan, error) {
	page, err := d.Observe(ctx)
	if err != nil {
		return docs.CrawlPlan{}, fmt.Errorf("observe for nav discovery: %w", err)
	}

	routes, err := n.finder.DiscoverNavigation(ctx, page)
	if err != nil {
		return docs.CrawlPlan{}, fmt.Errorf("nav discovery: %w", err)
	}

	plan := docs.CrawlPlan{}
	seen := make(map[string]bool, len(routes))
	for _, route := range routes {
		if route.Path == "" || seen[route.Path] {
			continue
		}
		seen[route.Path] = true
		plan.Routes = append(plan.Routes, route)
	}

	n.logger.Info("navigation discovered",
		zap.String("page", page.URL),
		zap.Int("routes", len(plan.Routes)),
	)
	if len(plan.Routes) == 0 {
		return plan, fmt.Errorf("nav discovery: no navigation targets found on %s", page.URL)
	}
	return plan, nil
}
