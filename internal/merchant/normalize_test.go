package merchant

import (
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDomain(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"www.Amazon.com":                   "amazon.com",
		"  SHOP.nike.com ":                 "nike.com",
		"store.example.co.uk":              "example.co.uk",
		"orders.acme.io":                   "acme.io",
		"https://www.amazon.com/order/123": "amazon.com",
		"amazon.com/gp/your-account":       "amazon.com",
		"shop.com":                         "shop.com",
		"":                                 "",
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizeDomain(in), in)
	}
}

func TestNormalizeNameKnown(t *testing.T) {
	t.Parallel()

	cases := []struct{ raw, domain, want string }{
		{"AMAZON.COM", "amazon.com", "Amazon"},
		{"amazon", "", "Amazon"},
		{"AMAZON", "", "Amazon"},
		{"Amzn", "", "Amazon"},
		{"www.amazon.com", "", "Amazon"},
		{"Order Confirmation", "amazon.co.uk", "Amazon UK"},
		{"The Home Depot", "", "Home Depot"},
		{"Macys", "", "Macy's"},
		{"EBAY", "", "eBay"},
		{"Nike, Inc.", "", "Nike"},
		{"costco.com", "", "Costco"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, NormalizeName(c.raw, c.domain), c.raw)
	}
}

func TestNormalizeNameGeneric(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"  some   new store ": "Some New Store",
		"ACME WIDGETS LLC":    "Acme Widgets",
		"acme co":             "Acme",
		"Fancy!!! Goods":      "Fancy! Goods",
		"rei outlet":          "REI Outlet",
		"ABC TRADING":         "ABC Trading",
		"LuLuLemon":           "LuLuLemon",
		"blue-sky supply":     "Blue-Sky Supply",
		"GEORGE'S HARDWARE":   "George's Hardware",
		"AT&T":                "AT&T",
		"at&t wireless":       "AT&T Wireless",
		"PB&J SHOP":           "PB&J Shop",
		"":                    "",
	}
	for in, want := range cases {
		require.Equal(t, want, NormalizeName(in, ""), in)
	}
}

func TestAliases(t *testing.T) {
	t.Parallel()

	got := Aliases("Joe's Fish & Chips", "Joe's Fish & Chips", "www.joesfish.com")
	for _, want := range []string{
		"joe's fish & chips",
		"joes fish & chips",
		"joe's fish and chips",
		"joe's fish  chips",
		"joe's fish chips",
		"joe'sfish&chips",
		"joe's-fish-&-chips",
		"joesfish.com",
		"joesfish",
	} {
		require.Contains(t, got, want)
	}
	require.True(t, sortedUnique(got))

	require.Equal(t, []string{"amazon", "amazon.com"}, Aliases("AMAZON.COM", "Amazon", "amazon.com"))
}

func sortedUnique(s []string) bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] >= s[i] {
			return false
		}
	}
	return true
}

func TestNormalizeNameIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	fragments := gen.SliceOf(gen.OneConstOf(
		"amazon", "AMAZON", "acme", "Widgets", "rei", "usps", "inc", " inc.", " co", ", llc",
		" ", "  ", "-", "&", "'s", "!!", ".", ".com", "www.", "shop.", "ab", "XY", "3m",
	), reflect.TypeOf("")).Map(func(parts []string) string { return strings.Join(parts, "") })

	properties.Property("NormalizeName is idempotent", prop.ForAll(
		func(raw string) bool {
			once := NormalizeName(raw, "")
			return NormalizeName(once, "") == once
		},
		fragments,
	))
	properties.Property("NormalizeName is idempotent on alpha strings", prop.ForAll(
		func(raw string) bool {
			once := NormalizeName(raw, "")
			return NormalizeName(once, "") == once
		},
		gen.AlphaString(),
	))
	properties.Property("NormalizeDomain is idempotent", prop.ForAll(
		func(raw string) bool {
			once := NormalizeDomain(raw)
			return NormalizeDomain(once) == once
		},
		fragments,
	))

	properties.TestingRun(t)
}
