package matcher_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/purchase_backend/matcher"
	"github.com/mmdatafocus/purchase_backend/matcher/matchertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *matchertest.Catalog {
	return matchertest.NewCatalog([]matcher.Product{
		{ID: 1, Sku: "SBL-ARN-30", Barcode: "8901234567890", Name: "Arnica Montana 30C 10ml", Brand: "SBL"},
		{ID: 2, Sku: "REC-BEL-200", Name: "Belladonna 200C 30ml", Brand: "Reckeweg"},
		{ID: 3, Sku: "SCH-CAL-6X", Name: "Calcarea Phosphorica 6X 20gm", Brand: "Schwabe"},
		{ID: 4, Sku: "SBL-NUX-30", Name: "Nux Vomica 30C 30ml", Brand: "SBL"},
	})
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Arnica Montana 30C, 10ml", "arnica montana 30c 10 ml"},
		{"  ARNICA   montana 30c 10 ML ", "arnica montana 30c 10 ml"},
		{"Calc. Phos 6X (20gm)", "calc phos 6x 20 gm"},
		{"Syrup 0.5ml", "syrup 0.5 ml"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := matcher.Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
	assert.Equal(t, matcher.Normalize("30ml"), matcher.Normalize("30 ml"))
}

func TestTokenSortRatio(t *testing.T) {
	assert.Equal(t, 1.0, matcher.TokenSortRatio("montana arnica", "Arnica Montana"))
	assert.Equal(t, 0.0, matcher.TokenSortRatio("", "arnica"))
	r := matcher.TokenSortRatio("arnica montna 30c", "arnica montana 30c")
	assert.Greater(t, r, 0.9)
	assert.Less(t, r, 1.0)
	assert.Less(t, matcher.TokenSortRatio("belladonna", "arnica"), 0.5)

	// one dropped letter over 17+18 bytes
	assert.InDelta(t, 34.0/35.0, r, 1e-9)
	// substitution counts as a delete plus an insert
	assert.InDelta(t, 6.0/8.0, matcher.TokenSortRatio("abcd", "abxd"), 1e-9)
}

func TestRankByKeywordHits(t *testing.T) {
	products := []matcher.Product{
		{ID: 1, Name: "Arnica Montana 30C"},
		{ID: 2, Name: "Arnica Oil"},
		{ID: 3, Name: "Belladonna 200C"},
	}
	got := matcher.RankByKeywordHits(products, []string{"arnica", "30c"}, 5)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].ID)
	assert.Equal(t, 2, got[1].ID)

	assert.Len(t, matcher.RankByKeywordHits(products, []string{"arnica"}, 1), 1)
	assert.Empty(t, matcher.RankByKeywordHits(products, []string{"nux"}, 5))
}

func TestCodeCandidates(t *testing.T) {
	got := matcher.CodeCandidates("SBL-ARN-30 Arnica 30C 10ml 8901234567890")
	assert.Equal(t, []string{"SBL-ARN-30", "8901234567890"}, got)
	assert.Empty(t, matcher.CodeCandidates("Arnica Montana 200C 30ml"))
}

func TestMatch_SkuShortCircuitsFuzzy(t *testing.T) {
	m := matcher.New(testCatalog(), matcher.DefaultConfig())
	res, err := m.Match(context.Background(), matcher.Query{VendorId: 7, Description: "SBL-ARN-30 Arnica Montana 30C 10ml"})
	require.NoError(t, err)
	require.NotNil(t, res.Product)
	assert.Equal(t, 1, res.Product.ID)
	assert.Equal(t, matcher.MatchTypeSku, res.MatchType)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, int64(0), m.FuzzyComparisons())
}

func TestMatch_Barcode(t *testing.T) {
	m := matcher.New(testCatalog(), matcher.DefaultConfig())
	res, err := m.Match(context.Background(), matcher.Query{Description: "Arnica 8901234567890"})
	require.NoError(t, err)
	require.NotNil(t, res.Product)
	assert.Equal(t, matcher.MatchTypeBarcode, res.MatchType)
	assert.Equal(t, int64(0), m.FuzzyComparisons())
}

func TestMatch_VendorMapping(t *testing.T) {
	cat := testCatalog()
	cat.PutVendorMapping(7, "Arnika mont 30 tincture", 1, 0.9)
	cat.PutVendorMapping(7, "Bella drops", 2, 0.7)
	m := matcher.New(cat, matcher.DefaultConfig())

	res, err := m.Match(context.Background(), matcher.Query{VendorId: 7, Description: "ARNIKA MONT 30 tincture"})
	require.NoError(t, err)
	assert.Equal(t, matcher.MatchTypeVendorMapping, res.MatchType)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, 1, cat.MappingUsage(7, "arnika mont 30 tincture"))
	assert.Equal(t, int64(0), m.FuzzyComparisons())

	// below the mapping threshold: falls through the chain
	res, err = m.Match(context.Background(), matcher.Query{VendorId: 7, Description: "Bella drops"})
	require.NoError(t, err)
	assert.NotEqual(t, matcher.MatchTypeVendorMapping, res.MatchType)
	assert.Equal(t, 0, cat.MappingUsage(7, "bella drops"))
}

func TestMatch_ExactName(t *testing.T) {
	m := matcher.New(testCatalog(), matcher.DefaultConfig())
	res, err := m.Match(context.Background(), matcher.Query{Description: "belladonna 200c, 30 ML"})
	require.NoError(t, err)
	require.NotNil(t, res.Product)
	assert.Equal(t, 2, res.Product.ID)
	assert.Equal(t, matcher.MatchTypeExactName, res.MatchType)
	assert.Equal(t, matcher.ExactNameConfidence, res.Confidence)
	assert.Equal(t, int64(0), m.FuzzyComparisons())
}

func TestMatch_FuzzyWithBrandBonus(t *testing.T) {
	m := matcher.New(testCatalog(), matcher.DefaultConfig())
	res, err := m.Match(context.Background(), matcher.Query{Description: "Nux Vomika 30C 30ml SBL"})
	require.NoError(t, err)
	require.NotNil(t, res.Product)
	assert.Equal(t, 4, res.Product.ID)
	assert.Equal(t, matcher.MatchTypeFuzzy, res.MatchType)
	assert.GreaterOrEqual(t, res.Confidence, 0.75)
	assert.LessOrEqual(t, res.Confidence, 1.0)
	assert.Equal(t, int64(4), m.FuzzyComparisons())

	plain := matcher.TokenSortRatio("Nux Vomika 30C 30ml SBL", "Nux Vomica 30C 30ml")
	assert.InDelta(t, minFloat(plain+matcher.BrandBonus, 1), res.Confidence, 1e-9)
}

func TestMatch_NoMatchReturnsSuggestions(t *testing.T) {
	m := matcher.New(testCatalog(), matcher.DefaultConfig())
	res, err := m.Match(context.Background(), matcher.Query{Description: "SBL Mother tincture 30ml"})
	require.NoError(t, err)
	assert.Nil(t, res.Product)
	assert.Nil(t, res.ProductId())
	assert.Equal(t, matcher.MatchTypeNone, res.MatchType)
	assert.Equal(t, 0.0, res.Confidence)
	assert.LessOrEqual(t, len(res.Suggestions), 5)
}

func TestMatch_SuggestionLimit(t *testing.T) {
	var products []matcher.Product
	for i := 1; i <= 9; i++ {
		products = append(products, matcher.Product{ID: i, Name: "Tincture blend " + string(rune('A'+i))})
	}
	m := matcher.New(matchertest.NewCatalog(products), matcher.DefaultConfig())
	res, err := m.Match(context.Background(), matcher.Query{Description: "zz tincture qq"})
	require.NoError(t, err)
	assert.Len(t, res.Suggestions, 5)
}

type slowCatalog struct {
	*matchertest.Catalog
}

func (c slowCatalog) ActiveProducts(ctx context.Context) ([]matcher.Product, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Second):
	}
	return c.Catalog.ActiveProducts(ctx)
}

func TestMatch_TimeoutYieldsNoMatch(t *testing.T) {
	cfg := matcher.DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	m := matcher.New(slowCatalog{testCatalog()}, cfg)
	res, err := m.Match(context.Background(), matcher.Query{Description: "something unknown"})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Nil(t, res.Product)
}

type failingCatalog struct {
	*matchertest.Catalog
}

func (c failingCatalog) FindByNormalizedName(context.Context, string) (*matcher.Product, error) {
	return nil, errors.New("db down")
}

func TestMatch_CatalogErrorPropagates(t *testing.T) {
	m := matcher.New(failingCatalog{testCatalog()}, matcher.DefaultConfig())
	_, err := m.Match(context.Background(), matcher.Query{Description: "unknown"})
	assert.Error(t, err)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
