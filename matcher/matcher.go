package matcher

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// Match types reported on a Result.
const (
	MatchTypeSku           = "sku"
	MatchTypeBarcode       = "barcode"
	MatchTypeVendorMapping = "vendor_mapping"
	MatchTypeExactName     = "exact_name"
	MatchTypeFuzzy         = "fuzzy"
	MatchTypeNone          = "none"
)

const (
	ExactNameConfidence = 0.95
	BrandBonus          = 0.1
)

// Product is the catalog view the matcher works on.
type Product struct {
	ID             int    `json:"id"`
	Sku            string `json:"sku"`
	Barcode        string `json:"barcode"`
	Name           string `json:"name"`
	NormalizedName string `json:"normalized_name"`
	Brand          string `json:"brand"`
	Potency        string `json:"potency"`
}

// VendorMapping is a learned (vendor, normalized description) -> product binding.
type VendorMapping struct {
	Product    Product
	Confidence float64
}

// Catalog is the lookup surface a Matcher needs. Lookups that find nothing
// return (nil, nil).
type Catalog interface {
	FindBySku(ctx context.Context, sku string) (*Product, error)
	FindByBarcode(ctx context.Context, barcode string) (*Product, error)
	FindVendorMapping(ctx context.Context, vendorId int, normalized string) (*VendorMapping, error)
	TouchVendorMapping(ctx context.Context, vendorId int, normalized string) error
	FindByNormalizedName(ctx context.Context, normalized string) (*Product, error)
	ActiveProducts(ctx context.Context) ([]Product, error)
	SearchKeywords(ctx context.Context, keywords []string, limit int) ([]Product, error)
}

type Query struct {
	VendorId    int
	Description string
	Sku         string
	Barcode     string
}

type Suggestion struct {
	ProductId int     `json:"product_id"`
	Name      string  `json:"name"`
	Sku       string  `json:"sku"`
	Score     float64 `json:"score"`
}

type Result struct {
	Product     *Product     `json:"product"`
	Confidence  float64      `json:"confidence"`
	MatchType   string       `json:"match_type"`
	Suggestions []Suggestion `json:"suggestions"`
	TimedOut    bool         `json:"timed_out"`
}

func (r *Result) ProductId() *int {
	if r == nil || r.Product == nil {
		return nil
	}
	id := r.Product.ID
	return &id
}

// Strategy is one step of the matching chain. A nil Result means the step
// did not match and the next step runs.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, q Query, normalized string) (*Result, error)
}

type Config struct {
	MappingThreshold float64
	FuzzyThreshold   float64
	Timeout          time.Duration
	SuggestionLimit  int
}

func DefaultConfig() Config {
	return Config{
		MappingThreshold: 0.8,
		FuzzyThreshold:   0.75,
		Timeout:          5 * time.Second,
		SuggestionLimit:  5,
	}
}

type Matcher struct {
	catalog    Catalog
	cfg        Config
	strategies []Strategy

	fuzzyComparisons atomic.Int64
}

func New(catalog Catalog, cfg Config) *Matcher {
	def := DefaultConfig()
	if cfg.MappingThreshold <= 0 {
		cfg.MappingThreshold = def.MappingThreshold
	}
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = def.FuzzyThreshold
	}
	if cfg.SuggestionLimit <= 0 {
		cfg.SuggestionLimit = def.SuggestionLimit
	}
	m := &Matcher{catalog: catalog, cfg: cfg}
	m.strategies = []Strategy{
		&codeStrategy{catalog: catalog},
		&vendorMappingStrategy{catalog: catalog, threshold: cfg.MappingThreshold},
		&exactNameStrategy{catalog: catalog},
		&fuzzyStrategy{catalog: catalog, threshold: cfg.FuzzyThreshold, counter: &m.fuzzyComparisons},
	}
	return m
}

// FuzzyComparisons returns how many fuzzy candidate comparisons have run.
func (m *Matcher) FuzzyComparisons() int64 {
	return m.fuzzyComparisons.Load()
}

// Match runs the strategy chain and returns the first hit. When nothing
// matches, or the per-line deadline passes, it returns a "none" result with
// keyword suggestions.
func (m *Matcher) Match(ctx context.Context, q Query) (*Result, error) {
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}
	normalized := Normalize(q.Description)

	for _, s := range m.strategies {
		res, err := s.Attempt(ctx, q, normalized)
		if err != nil {
			if isDeadline(ctx, err) {
				return &Result{MatchType: MatchTypeNone, TimedOut: true}, nil
			}
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}

	suggestions, err := m.suggest(ctx, q.Description)
	if err != nil {
		if isDeadline(ctx, err) {
			return &Result{MatchType: MatchTypeNone, TimedOut: true}, nil
		}
		return nil, err
	}
	return &Result{MatchType: MatchTypeNone, Suggestions: suggestions}, nil
}

func (m *Matcher) suggest(ctx context.Context, description string) ([]Suggestion, error) {
	keywords := Keywords(description)
	if len(keywords) == 0 {
		return nil, nil
	}
	products, err := m.catalog.SearchKeywords(ctx, keywords, m.cfg.SuggestionLimit)
	if err != nil {
		return nil, err
	}
	out := make([]Suggestion, 0, len(products))
	for _, p := range products {
		if len(out) == m.cfg.SuggestionLimit {
			break
		}
		out = append(out, Suggestion{
			ProductId: p.ID,
			Name:      p.Name,
			Sku:       p.Sku,
			Score:     TokenSortRatio(description, p.Name),
		})
	}
	return out, nil
}

func isDeadline(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}
