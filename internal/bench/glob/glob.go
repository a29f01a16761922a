// Package glob matches benchmark ids against the `*`/`?` patterns
// accepted by pause/resume/abort/list (spec §6). It is a thin wrapper
// over path.Match: the pattern language this subsystem needs is exactly
// what path.Match already provides, so there is no third-party matcher
// to ground this on — see DESIGN.md.
package glob

import "path"

// MatchAny reports whether id matches any of patterns. An empty or nil
// patterns slice means "all", per spec.
func MatchAny(patterns []string, id string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if p == "" {
			return true
		}
		if ok, err := path.Match(p, id); err == nil && ok {
			return true
		}
	}
	return false
}

// FilterIDs returns the subset of ids matching any of patterns,
// preserving input order.
func FilterIDs(patterns []string, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if MatchAny(patterns, id) {
			out = append(out, id)
		}
	}
	return out
}
