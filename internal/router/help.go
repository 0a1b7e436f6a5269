package router

import (
	"fmt"
	"sort"
	"strings"
)

// helpText lists the command surface. Underscore spellings are accepted for
// every hyphenated name.
func (r *Router) helpText() string {
	names := make([]string, 0, len(r.catalog))
	for name := range r.catalog {
		names = append(names, name)
	}
	sort.Strings(names)

	width := 0
	for _, n := range names {
		width = max(width, len(r.catalog[n].Usage))
	}
	lines := []string{"Commands (admins only):"}
	for _, n := range names {
		c := r.catalog[n]
		lines = append(lines, fmt.Sprintf("/%-*s  %s", width, strings.ReplaceAll(c.Usage, "-", "_"), c.Description))
	}
	if len(r.gamesSnapshot()) > 1 {
		lines = append(lines, "", "Prefix the arguments with a game id outside the game channels.")
	}
	return strings.Join(lines, "\n")
}
