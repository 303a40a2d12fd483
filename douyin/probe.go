package douyin

import (
	"context"

	"github.com/go-rod/rod"
)

// Match reports how one selector fared on a page
type Match struct {
	Group    string
	Selector string
	Found    int
	Visible  int
}

// SelectorGroups returns every candidate selector by role, in lookup order
func SelectorGroups() map[string][]string {
	return map[string][]string{
		"like":      heartSelectors,
		"container": containerSelectors,
		"video":     videoSelectors,
		"input":     inputSelectors,
		"login":     loginSelectors,
	}
}

// Probe runs every selector in groups against page. Visible counts only
// elements with a non-empty layout box.
func Probe(ctx context.Context, page *rod.Page, groups map[string][]string) []Match {
	page = page.Context(ctx)

	var out []Match
	for _, group := range []string{"like", "container", "video", "input", "login"} {
		for _, sel := range groups[group] {
			m := Match{Group: group, Selector: sel}
			els, err := page.Elements(sel)
			if err == nil {
				m.Found = len(els)
				for _, el := range els {
					if _, ok := visibleBox(el); ok {
						m.Visible++
					}
				}
			}
			out = append(out, m)
		}
	}
	return out
}
