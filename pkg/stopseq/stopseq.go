// Package stopseq truncates streamed model output at stop markers.
//
// A stop marker is a literal string (a role-switch token, a chat-style
// "You:" prefix) that ends the current speaker's turn. Everything from the
// first full marker onward is discarded. While a marker is still streaming
// in, a trailing partial match is trimmed so the fragment never reaches the
// display.
//
//	catalog, err := stopseq.NewCatalog("<|im_end|>", "\nYou:")
//	if err != nil {
//	    return err
//	}
//	text, matched := catalog.Trim(buffer)
package stopseq

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyMarker is returned when a catalog is built with an empty marker.
var ErrEmptyMarker = errors.New("stopseq: empty marker")

// DefaultMarkers are the role-switch and end-of-turn tokens emitted by
// common chat-tuned models.
var DefaultMarkers = []string{
	"<|im_end|>",
	"<|im_start|>",
	"<|endoftext|>",
	"<|eot_id|>",
	"\nYou:",
	"\nUser:",
	"\nHuman:",
}

// Catalog is an ordered, immutable set of stop markers.
// Order matters: ties in the full-match pass go to the earlier marker.
type Catalog struct {
	markers []string
}

// NewCatalog builds a catalog. Duplicates are dropped, keeping the first
// occurrence. An empty marker is a programming error and fails here rather
// than at stream time.
func NewCatalog(markers ...string) (*Catalog, error) {
	seen := make(map[string]bool, len(markers))
	out := make([]string, 0, len(markers))
	for i, m := range markers {
		if m == "" {
			return nil, fmt.Errorf("%w (index %d)", ErrEmptyMarker, i)
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return &Catalog{markers: out}, nil
}

// MustCatalog is like NewCatalog but panics on error.
// Use it for package-level catalogs built from literals.
func MustCatalog(markers ...string) *Catalog {
	c, err := NewCatalog(markers...)
	if err != nil {
		panic(err)
	}
	return c
}

// Markers returns a copy of the catalog's markers in order.
func (c *Catalog) Markers() []string {
	out := make([]string, len(c.markers))
	copy(out, c.markers)
	return out
}

// Len returns the number of markers.
func (c *Catalog) Len() int {
	return len(c.markers)
}

// With returns a new catalog with extra markers appended.
func (c *Catalog) With(markers ...string) (*Catalog, error) {
	all := make([]string, 0, len(c.markers)+len(markers))
	all = append(all, c.markers...)
	all = append(all, markers...)
	return NewCatalog(all...)
}

// Trim truncates buffer at the earliest full marker occurrence and reports
// matched=true. Without a full match it strips any trailing partial marker
// prefix and reports matched=false.
func (c *Catalog) Trim(buffer string) (string, bool) {
	if c == nil || len(c.markers) == 0 {
		return buffer, false
	}
	if idx := c.firstMatch(buffer); idx >= 0 {
		return buffer[:idx], true
	}
	return c.trimPartial(buffer), false
}

// firstMatch returns the smallest start index of any marker, or -1.
func (c *Catalog) firstMatch(buffer string) int {
	best := -1
	for _, m := range c.markers {
		idx := strings.Index(buffer, m)
		if idx < 0 {
			continue
		}
		// strict less-than keeps the earlier marker on ties
		if best < 0 || idx < best {
			best = idx
		}
	}
	return best
}

// trimPartial removes tails that equal a proper prefix of a marker.
// Each marker is checked against the buffer left by the previous one, so
// a tail partially matching two markers in sequence is trimmed twice.
func (c *Catalog) trimPartial(buffer string) string {
	for _, m := range c.markers {
		runes := []rune(m)
		for n := len(runes) - 1; n >= 1; n-- {
			prefix := string(runes[:n])
			if strings.HasSuffix(buffer, prefix) {
				buffer = buffer[:len(buffer)-len(prefix)]
				break
			}
		}
	}
	return buffer
}

// Trim is a convenience wrapper for one-off use with an ad hoc marker list.
// It panics if a marker is empty.
func Trim(buffer string, markers []string) (string, bool) {
	return MustCatalog(markers...).Trim(buffer)
}
