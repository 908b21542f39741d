// Package merchant turns raw merchant names and domains from purchase
// evidence into canonical forms and alias candidates.
package merchant

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	wordSplit     = regexp.MustCompile(`(\s+|-)`)
	upper         = cases.Upper(language.Und)
	lower         = cases.Lower(language.Und)
)

// NormalizeDomain lower-cases a domain, strips well-known subdomain prefixes
// and accepts full URLs. It returns "" for empty input.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if d == "" {
		return ""
	}
	if strings.Contains(d, "://") {
		u, err := url.Parse(d)
		if err != nil || u.Host == "" {
			return ""
		}
		d = u.Hostname()
	} else if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimSpace(strings.TrimRight(d, ". "))
	for stripped := true; stripped; {
		stripped = false
		for _, p := range domainPrefixes {
			rest := strings.TrimSpace(strings.TrimPrefix(d, p))
			if rest != d && strings.Contains(rest, ".") {
				d = rest
				stripped = true
				break
			}
		}
	}
	return d
}

// StripTLD removes a known top-level suffix from a normalized domain.
func StripTLD(domain string) string {
	for _, s := range domainSuffixes {
		if strings.HasSuffix(domain, s) && len(domain) > len(s) {
			return strings.TrimSuffix(domain, s)
		}
	}
	return domain
}

// NormalizeName returns the canonical display name for a raw merchant name.
// Known merchants map to their canonical label; anything else is cleaned up
// and title-cased. Applying NormalizeName to its own output is a no-op.
func NormalizeName(raw, domain string) string {
	name := collapse(raw)
	if name == "" {
		return ""
	}
	key := strings.ToLower(name)
	if v, ok := lookup(key); ok {
		return v
	}
	if d := NormalizeDomain(domain); d != "" {
		if v, ok := known[d]; ok {
			return v
		}
	}
	for {
		trimmed := false
		for _, s := range corporateSuffixes {
			if strings.HasSuffix(key, s) && len(key) > len(s) {
				name = strings.TrimSpace(name[:len(name)-len(s)])
				name = strings.TrimSpace(strings.TrimRight(name, ","))
				key = strings.ToLower(name)
				trimmed = true
				break
			}
		}
		if !trimmed || name == "" {
			break
		}
		if v, ok := lookup(key); ok {
			return v
		}
	}
	if name == "" {
		return titleCase(collapse(raw))
	}
	return titleCase(name)
}

// lookup checks the known table for key, then for key read as a domain.
func lookup(key string) (string, bool) {
	if v, ok := known[key]; ok {
		return v, true
	}
	if !strings.Contains(key, ".") {
		return "", false
	}
	if v, ok := known[NormalizeDomain(key)]; ok {
		return v, true
	}
	if base := StripTLD(key); base != key {
		if v, ok := known[base]; ok {
			return v, true
		}
	}
	return "", false
}

// collapse trims, collapses whitespace runs and repeated punctuation.
func collapse(s string) string {
	s = whitespaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
	var b strings.Builder
	var prev rune
	for _, r := range s {
		if r == prev && unicode.IsPunct(r) {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

func titleCase(name string) string {
	if !isUpper(name) && !isLower(name) {
		_, size := utf8.DecodeRuneInString(name)
		for _, r := range name[size:] {
			if unicode.IsLetter(r) && unicode.IsUpper(r) {
				return name
			}
		}
	}
	var b strings.Builder
	last := 0
	for _, loc := range wordSplit.FindAllStringIndex(name, -1) {
		b.WriteString(caseWord(name[last:loc[0]]))
		b.WriteString(name[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(caseWord(name[last:]))
	return b.String()
}

func caseWord(w string) string {
	if w == "" {
		return w
	}
	if acronyms[strings.ToLower(w)] {
		return upper.String(w)
	}
	if n := letterCount(w); isUpper(w) && n >= 2 && n <= 3 {
		return w
	}
	_, size := utf8.DecodeRuneInString(w)
	return upper.String(w[:size]) + lower.String(w[size:])
}

func letterCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			cased = true
		}
	}
	return cased
}

func isLower(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsUpper(r) {
			return false
		}
		if unicode.IsLower(r) {
			cased = true
		}
	}
	return cased
}

// Aliases returns the lower-cased lookup variants of a merchant: the raw and
// canonical names with spacing, hyphen, apostrophe and ampersand variants,
// plus the normalized domain with and without its TLD. Sorted and unique.
func Aliases(rawName, canonical, domain string) []string {
	set := map[string]struct{}{}
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			set[s] = struct{}{}
		}
	}
	for _, n := range []string{canonical, collapse(rawName)} {
		l := strings.ToLower(strings.TrimSpace(n))
		if l == "" {
			continue
		}
		add(l)
		add(strings.ReplaceAll(l, " ", ""))
		add(strings.ReplaceAll(l, " ", "-"))
		if strings.Contains(l, "'") {
			add(strings.ReplaceAll(l, "'", ""))
		}
		if strings.Contains(l, "&") {
			add(strings.ReplaceAll(l, "&", "and"))
			add(strings.ReplaceAll(l, "&", ""))
			add(strings.ReplaceAll(l, " & ", " "))
		}
	}
	if d := NormalizeDomain(domain); d != "" {
		add(d)
		add(StripTLD(d))
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
