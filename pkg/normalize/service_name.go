// Package normalize canonicalizes provider service names so the same
// service reads the same regardless of which calendar it came from.
package normalize

import "strings"

// DefaultServiceName is used when a provider reports no service.
const DefaultServiceName = "Haircut"

type rule struct {
	contains  []string
	canonical string
}

// rules are evaluated in order; the first match wins. Kids must come before
// the generic haircut rule.
var rules = []rule{
	{contains: []string{"kid", "child"}, canonical: "Kids Haircut"},
	{contains: []string{"haircut", "hair cut"}, canonical: "Haircut"},
	{contains: []string{"beard"}, canonical: "Beard Trim"},
	{contains: []string{"shave"}, canonical: "Shave"},
}

// ServiceName maps a provider service label to its canonical form.
// Unrecognized names are returned trimmed with inner whitespace collapsed.
func ServiceName(name string) string {
	cleaned := strings.Join(strings.Fields(name), " ")
	if cleaned == "" {
		return DefaultServiceName
	}

	lower := strings.ToLower(cleaned)
	for _, r := range rules {
		for _, needle := range r.contains {
			if strings.Contains(lower, needle) {
				return r.canonical
			}
		}
	}
	return cleaned
}
