package matching

import "strings"

// ResolveCanonical picks the canonical name for a group and builds its alias set.
//
// The first name is the baseline and is only replaced by a strictly shorter
// name containing neither '.' nor '_'. Aliases are every other name plus the
// existing aliases, de-duplicated by exact (case-sensitive) match in insertion
// order, never including the canonical name.
func ResolveCanonical(names []string, existingAliases ...string) (string, []string) {
	if len(names) == 0 {
		return "", dedupe(existingAliases, "")
	}

	canonical := names[0]
	for _, name := range names[1:] {
		if strings.ContainsAny(name, "._") {
			continue
		}
		if len([]rune(name)) < len([]rune(canonical)) {
			canonical = name
		}
	}

	all := make([]string, 0, len(names)+len(existingAliases))
	all = append(all, names...)
	all = append(all, existingAliases...)
	return canonical, dedupe(all, canonical)
}

func dedupe(values []string, exclude string) []string {
	seen := map[string]bool{exclude: true}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// UnionAliases appends additions to aliases, skipping exact duplicates and the
// excluded name. It mirrors the array union the repositories apply in SQL.
func UnionAliases(aliases []string, exclude string, additions ...string) []string {
	all := make([]string, 0, len(aliases)+len(additions))
	all = append(all, aliases...)
	all = append(all, additions...)
	return dedupe(all, exclude)
}
