package catalog

import "strings"

// GuessCandidates returns the app-page URLs to probe for pkg, in order.
// The slug is the last dot-separated segment of the identifier.
func GuessCandidates(baseURL, pkg string) []string {
	base := strings.TrimRight(baseURL, "/")
	slug := pkg
	if i := strings.LastIndex(pkg, "."); i >= 0 {
		slug = pkg[i+1:]
	}
	return []string{
		base + "/" + slug + "/" + pkg,
		base + "/" + slug + "-app/" + pkg,
	}
}
