package legacy

import (
	"fmt"
	"strings"
)

// DefaultAdminRoutes are the routes a legacy user key may never call.
var DefaultAdminRoutes = []string{
	"POST /sites",
	"DELETE /sites/:siteId",
	"POST /organizations",
	"DELETE /organizations/:organizationId",
	"* /configurations/*",
	"POST /slack/events",
	"POST /trigger",
}

type route struct {
	method   string
	segments []string
}

// parseRoutes compiles "METHOD /path" patterns. ":name" matches one path
// segment, a trailing "*" matches one or more remaining segments and "*" as
// method matches all.
func parseRoutes(patterns []string) ([]route, error) {
	routes := make([]route, 0, len(patterns))
	for _, p := range patterns {
		method, path, ok := strings.Cut(strings.TrimSpace(p), " ")
		path = strings.TrimSpace(path)
		if !ok || method == "" || !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("invalid admin route %q", p)
		}
		routes = append(routes, route{
			method:   strings.ToUpper(method),
			segments: splitPath(path),
		})
	}
	return routes, nil
}

func (rt route) matches(method, path string) bool {
	if rt.method != "*" && rt.method != strings.ToUpper(method) {
		return false
	}
	segs := splitPath(path)
	for i, want := range rt.segments {
		if want == "*" && i == len(rt.segments)-1 {
			return i < len(segs)
		}
		if i >= len(segs) {
			return false
		}
		if strings.HasPrefix(want, ":") {
			continue
		}
		if want != segs[i] {
			return false
		}
	}
	return len(segs) == len(rt.segments)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
