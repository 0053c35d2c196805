// Package slugify derives URL-safe slugs from entity names, with
// deterministic numeric-suffix disambiguation on collision.
package slugify

import (
	"fmt"

	"github.com/gosimple/slug"
)

// ExistsFunc reports whether a candidate slug is already taken within the
// relevant scope (all groups, or one group's events).
type ExistsFunc func(candidate string) (bool, error)

// Unique slugifies name and returns the first free candidate. If the base
// slug is taken it tries base-2, base-3, and so on.
func Unique(name string, exists ExistsFunc) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "untitled"
	}

	candidate := base
	for n := 2; ; n++ {
		taken, err := exists(candidate)
		if err != nil {
			return "", fmt.Errorf("check slug %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
}
