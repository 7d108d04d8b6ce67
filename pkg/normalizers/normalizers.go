// Package normalizers provides string normalization for uploaded rows and
// match reasons.
package normalizers

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/kljensen/snowball"
	"golang.org/x/text/unicode/norm"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

var registry = make(map[string]Normalizer)

func init() {
	Register("nfc", NFC)
	Register("trim", Trim)
	Register("lowercase", Lowercase)
	Register("collapse_whitespace", CollapseWhitespace)
	Register("alphanumeric", Alphanumeric)
	Register("domain", Domain)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer; unknown names leave the value unchanged.
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// CellChain is applied to every uploaded cell.
var CellChain = []string{"nfc", "trim", "collapse_whitespace"}

func NFC(s string) string {
	return norm.NFC.String(s)
}

func Trim(s string) string {
	return strings.TrimSpace(s)
}

func Lowercase(s string) string {
	return strings.ToLower(s)
}

// CollapseWhitespace folds runs of whitespace into a single space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func Alphanumeric(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Domain reduces a website to its lowercase host without a leading "www.".
// "https://WWW.Example-Hotel.com/pms" and "example-hotel.com" both become
// "example-hotel.com". Unparseable input yields "".
func Domain(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	host := strings.TrimSuffix(u.Hostname(), ".")
	host = strings.TrimPrefix(host, "www.")
	if !strings.Contains(host, ".") {
		return ""
	}
	return host
}

// corporate suffixes and filler words that carry no identity
var stopTokens = map[string]bool{
	"inc": true, "llc": true, "ltd": true, "limited": true, "corp": true, "corporation": true,
	"co": true, "company": true, "gmbh": true, "sa": true, "ag": true, "bv": true, "plc": true,
	"the": true, "and": true, "of": true, "group": true, "holdings": true,
}

// NameTokens splits a name into lowercase stemmed tokens, dropping corporate
// suffixes. Order follows first appearance; duplicates are removed.
func NameTokens(s string) []string {
	words := strings.FieldsFunc(strings.ToLower(NFC(s)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := map[string]bool{}
	var tokens []string
	for _, w := range words {
		if stopTokens[w] {
			continue
		}
		stemmed, err := snowball.Stem(w, "english", true)
		if err != nil || stemmed == "" {
			stemmed = w
		}
		if seen[stemmed] {
			continue
		}
		seen[stemmed] = true
		tokens = append(tokens, stemmed)
	}
	return tokens
}

// SharedTokens returns the stemmed tokens common to a and b, in a's order.
func SharedTokens(a, b string) []string {
	inB := map[string]bool{}
	for _, t := range NameTokens(b) {
		inB[t] = true
	}
	var shared []string
	for _, t := range NameTokens(a) {
		if inB[t] {
			shared = append(shared, t)
		}
	}
	return shared
}
