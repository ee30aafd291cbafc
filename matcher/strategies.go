package matcher

import (
	"context"
	"regexp"
	"strings"
	"sync/atomic"
	"unicode"
)

var (
	codeTokenRegex = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9\-/]{2,23}`)
	barcodeRegex   = regexp.MustCompile(`^\d{8,14}$`)
	measureRegex   = regexp.MustCompile(`(?i)^\d+(\.\d+)?(ml|mg|gm|g|kg|l|ltr|mcg|iu|c|ch|x|ck|m|lm|cm|tab|tabs|cap|caps|pcs|nos|units?)$`)
)

// codeStrategy looks up code-shaped tokens of the description (and any
// explicit sku/barcode on the query) as SKU first, then barcode.
type codeStrategy struct {
	catalog Catalog
}

func (s *codeStrategy) Name() string { return "code" }

func (s *codeStrategy) Attempt(ctx context.Context, q Query, _ string) (*Result, error) {
	if q.Sku != "" {
		p, err := s.catalog.FindBySku(ctx, strings.TrimSpace(q.Sku))
		if err != nil || p != nil {
			return skuResult(p, MatchTypeSku), err
		}
	}
	if q.Barcode != "" {
		p, err := s.catalog.FindByBarcode(ctx, strings.TrimSpace(q.Barcode))
		if err != nil || p != nil {
			return skuResult(p, MatchTypeBarcode), err
		}
	}
	for _, code := range CodeCandidates(q.Description) {
		p, err := s.catalog.FindBySku(ctx, code)
		if err != nil || p != nil {
			return skuResult(p, MatchTypeSku), err
		}
		if barcodeRegex.MatchString(code) {
			p, err = s.catalog.FindByBarcode(ctx, code)
			if err != nil || p != nil {
				return skuResult(p, MatchTypeBarcode), err
			}
		}
	}
	return nil, nil
}

func skuResult(p *Product, matchType string) *Result {
	if p == nil {
		return nil
	}
	return &Result{Product: p, Confidence: 1.0, MatchType: matchType}
}

// CodeCandidates extracts the code-shaped substrings of a description:
// mixed letter/digit tokens that are not plain measures ("30ml", "200C"),
// and 8-14 digit barcodes.
func CodeCandidates(description string) []string {
	var out []string
	for _, tok := range codeTokenRegex.FindAllString(description, -1) {
		tok = strings.Trim(tok, "-/")
		if len(tok) < 4 {
			continue
		}
		if barcodeRegex.MatchString(tok) {
			out = append(out, tok)
			continue
		}
		if measureRegex.MatchString(tok) {
			continue
		}
		var letters, digits int
		for _, r := range tok {
			switch {
			case unicode.IsLetter(r):
				letters++
			case unicode.IsDigit(r):
				digits++
			}
		}
		if letters > 0 && digits > 0 {
			out = append(out, strings.ToUpper(tok))
		}
	}
	return out
}

type vendorMappingStrategy struct {
	catalog   Catalog
	threshold float64
}

func (s *vendorMappingStrategy) Name() string { return "vendor_mapping" }

func (s *vendorMappingStrategy) Attempt(ctx context.Context, q Query, normalized string) (*Result, error) {
	if q.VendorId == 0 || normalized == "" {
		return nil, nil
	}
	m, err := s.catalog.FindVendorMapping(ctx, q.VendorId, normalized)
	if err != nil || m == nil {
		return nil, err
	}
	if m.Confidence < s.threshold {
		return nil, nil
	}
	if err := s.catalog.TouchVendorMapping(ctx, q.VendorId, normalized); err != nil {
		return nil, err
	}
	p := m.Product
	return &Result{Product: &p, Confidence: m.Confidence, MatchType: MatchTypeVendorMapping}, nil
}

type exactNameStrategy struct {
	catalog Catalog
}

func (s *exactNameStrategy) Name() string { return "exact_name" }

func (s *exactNameStrategy) Attempt(ctx context.Context, _ Query, normalized string) (*Result, error) {
	if normalized == "" {
		return nil, nil
	}
	p, err := s.catalog.FindByNormalizedName(ctx, normalized)
	if err != nil || p == nil {
		return nil, err
	}
	return &Result{Product: p, Confidence: ExactNameConfidence, MatchType: MatchTypeExactName}, nil
}

type fuzzyStrategy struct {
	catalog   Catalog
	threshold float64
	counter   *atomic.Int64
}

func (s *fuzzyStrategy) Name() string { return "fuzzy" }

func (s *fuzzyStrategy) Attempt(ctx context.Context, _ Query, normalized string) (*Result, error) {
	if normalized == "" {
		return nil, nil
	}
	products, err := s.catalog.ActiveProducts(ctx)
	if err != nil {
		return nil, err
	}
	tokens := Tokens(normalized)
	query := sortedTokens(normalized)

	var best *Product
	bestScore := 0.0
	for i := range products {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		p := &products[i]
		name := p.NormalizedName
		if name == "" {
			name = Normalize(p.Name)
		}
		s.counter.Add(1)
		score := ratio(query, sortedTokens(name))
		if p.Brand != "" && containsAllTokens(tokens, p.Brand) {
			score += BrandBonus
		}
		if score > 1 {
			score = 1
		}
		if score > bestScore {
			best, bestScore = p, score
		}
	}
	if best == nil || bestScore < s.threshold {
		return nil, nil
	}
	return &Result{Product: best, Confidence: bestScore, MatchType: MatchTypeFuzzy}, nil
}
