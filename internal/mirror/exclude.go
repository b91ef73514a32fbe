package mirror

import (
	"fmt"
	"path"
	"strings"
)

// Excluder matches basenames against shell glob patterns.
type Excluder struct {
	patterns []string
}

func NewExcluder(patterns []string) (*Excluder, error) {
	x := &Excluder{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %w", p, err)
		}
		x.patterns = append(x.patterns, p)
	}
	return x, nil
}

// Match returns the first pattern matching name.
func (x *Excluder) Match(name string) (string, bool) {
	if x == nil {
		return "", false
	}
	for _, p := range x.patterns {
		if ok, _ := path.Match(p, name); ok {
			return p, true
		}
	}
	return "", false
}

// Covers reports whether any segment of a slash separated relative key is
// excluded, i.e. whether a walk would never reach it.
func (x *Excluder) Covers(rel string) bool {
	for _, segment := range strings.Split(rel, "/") {
		if segment == "" {
			continue
		}
		if _, ok := x.Match(segment); ok {
			return true
		}
	}
	return false
}
