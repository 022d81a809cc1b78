package model

import "strings"

// SuggestProjectName derives a slug-style project name from the idea text
// when the caller did not supply one.
func SuggestProjectName(idea string) string {
	var b strings.Builder
	lastDash := false
	for _, c := range idea {
		switch {
		case c >= 'a' && c <= 'z' || c >= '0' && c <= '9':
			b.WriteRune(c)
			lastDash = false
		case c >= 'A' && c <= 'Z':
			b.WriteRune(c + ('a' - 'A'))
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	name := strings.Trim(b.String(), "-")
	switch {
	case name == "":
		return "celadon-project"
	case len(name) < 4:
		return "celadon-" + name
	default:
		return name
	}
}
