package textutil

import (
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	unsafePathChars = regexp.MustCompile(`[\\/:*?"<>|]`)
	runsOfSpace     = regexp.MustCompile(`\s+`)
)

// SanitizePathSegment makes name safe to use as a single path element.
// The input is NFC-normalized, reserved characters become underscores, and
// surrounding spaces and dots are trimmed before whitespace runs collapse to
// one space.
func SanitizePathSegment(name string) string {
	name = norm.NFC.String(name)
	name = unsafePathChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, " .")
	return strings.TrimSpace(runsOfSpace.ReplaceAllString(name, " "))
}

// RenderTemplate substitutes {author} and {title} into template after
// sanitizing both values. Slashes in the template itself are kept as
// directory separators, so the result is a relative path without extension.
func RenderTemplate(template, author, title string) string {
	safeAuthor := SanitizePathSegment(author)
	safeTitle := SanitizePathSegment(title)
	rel := strings.NewReplacer("{author}", safeAuthor, "{title}", safeTitle).Replace(template)
	return filepath.FromSlash(rel)
}
