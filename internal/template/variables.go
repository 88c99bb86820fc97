// Package template implements {{key}} placeholder interpolation for alert
// titles and bodies.
package template

import (
	"regexp"
)

// variablePattern matches {{variable_name}} with optional whitespace.
var variablePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Interpolate replaces {{key}} placeholders with values from the variables
// map. Placeholders with no matching key are left verbatim so a partially
// filled template is visible as such in the ops UI rather than silently
// blanked.
func Interpolate(text string, variables map[string]string) string {
	if len(variables) == 0 {
		return text
	}
	return variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		submatches := variablePattern.FindStringSubmatch(match)
		if len(submatches) != 2 {
			return match
		}
		if value, ok := variables[submatches[1]]; ok {
			return value
		}
		return match
	})
}

// ExtractVariableNames returns all unique variable names referenced in the
// text, in order of first appearance.
func ExtractVariableNames(text string) []string {
	matches := variablePattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool)
	names := make([]string, 0, len(matches))

	for _, m := range matches {
		if len(m) == 2 && !seen[m[1]] {
			names = append(names, m[1])
			seen[m[1]] = true
		}
	}
	return names
}
