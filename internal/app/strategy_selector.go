package app

import (
	"fmt"
	"strings"

	"github.com/yourusername/hqmx-go/internal/domain"
)

// StrategySelector decides per source URL and request whether a direct transfer
// is possible or a server-side job is required
type StrategySelector struct {
	rules   []domain.PlatformRule
	markers []string
}

// NewStrategySelector creates a selector from the routing configuration.
// Empty rule or marker lists fall back to the built-in tables.
func NewStrategySelector(config domain.RoutingConfig) *StrategySelector {
	rules := config.Rules
	if len(rules) == 0 {
		rules = domain.DefaultPlatformRules()
	}
	markers := config.AdaptiveMarkers
	if len(markers) == 0 {
		markers = domain.DefaultAdaptiveMarkers
	}
	return &StrategySelector{rules: rules, markers: markers}
}

// Rules returns the routing table in evaluation order
func (s *StrategySelector) Rules() []domain.PlatformRule {
	return s.rules
}

// Decide resolves the delivery strategy. Platform rules win over format availability.
func (s *StrategySelector) Decide(sourceURL string, req domain.DownloadRequest, catalog *domain.FormatCatalog) domain.Strategy {
	if strategy, ok := s.platformOverride(sourceURL); ok {
		return strategy
	}

	if catalog == nil {
		return domain.ServerJob("no analysis available")
	}

	sel := catalog.FindByQuality(req.MediaKind, req.Quality)
	if sel == nil || sel.Format == nil {
		return domain.ServerJob(fmt.Sprintf("quality %s unavailable for direct transfer", req.Quality))
	}

	f := sel.Format
	container := req.NormalizedContainer()
	switch {
	case !f.HasURL():
		return domain.ServerJob("format requires server extraction")
	case domain.IsAdaptiveURL(f.URL, s.markers):
		return domain.ServerJob("adaptive stream requires segment merging")
	case sel.NeedsMerge():
		return domain.ServerJob("separate audio track requires merging")
	case !strings.EqualFold(f.Container, container):
		return domain.ServerJob(fmt.Sprintf("conversion from %s to %s required", f.Container, container))
	case req.MediaKind == domain.KindVideo && !req.FPS.IsAny() && f.FPS > 0 && f.FPS != float64(req.FPS):
		return domain.ServerJob(fmt.Sprintf("frame rate conversion to %s required", req.FPS))
	}

	return domain.DirectStream(f.URL)
}

func (s *StrategySelector) platformOverride(sourceURL string) (domain.Strategy, bool) {
	host := domain.HostOf(sourceURL)
	for _, rule := range s.rules {
		if !rule.Matches(host) {
			continue
		}
		switch rule.Strategy {
		case domain.StrategyServerJob:
			strategy := domain.ServerJob(rule.Reason)
			strategy.Platform = rule.Name
			return strategy, true
		case domain.StrategyExternalExtraction:
			strategy := domain.ExternalExtraction(rule.Name)
			if rule.Reason != "" {
				strategy.Reason = rule.Reason
			}
			return strategy, true
		case domain.StrategyUnsupported:
			strategy := domain.Unsupported(rule.Reason)
			strategy.Platform = rule.Name
			return strategy, true
		}
		// A direct_stream rule only names the platform; formats still decide
		return domain.Strategy{}, false
	}
	return domain.Strategy{}, false
}
