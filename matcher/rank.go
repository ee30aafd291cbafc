package matcher

import (
	"sort"
	"strings"
)

// RankByKeywordHits orders products by how many keywords their normalized name
// contains, dropping products with no hit. Ties fall back to the name.
func RankByKeywordHits(products []Product, keywords []string, limit int) []Product {
	type hit struct {
		p    Product
		hits int
	}
	var hits []hit
	for _, p := range products {
		name := p.NormalizedName
		if name == "" {
			name = Normalize(p.Name)
		}
		n := 0
		for _, k := range keywords {
			if strings.Contains(name, k) {
				n++
			}
		}
		if n > 0 {
			hits = append(hits, hit{p, n})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].hits != hits[j].hits {
			return hits[i].hits > hits[j].hits
		}
		return hits[i].p.Name < hits[j].p.Name
	})
	out := make([]Product, 0, len(hits))
	for _, h := range hits {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, h.p)
	}
	return out
}
