package pipeline

import (
	"fmt"
	"strings"
)

// BuildPageURL returns the listing URL for the given 1-based page number.
// Page 1 is the bare source URL; later pages append a /page/N/ suffix. The
// base is never mutated, so repeated calls with different pages compose.
func BuildPageURL(base string, page int) string {
	if page <= 1 {
		return base
	}
	return fmt.Sprintf("%s/page/%d/", strings.TrimRight(base, "/"), page)
}
