package textutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// Label turns an upper-case status constant such as "DOWNLOADED" or
// "NOT_STARTED" into "Downloaded" or "Not Started".
func Label(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return ""
	}
	return titleCaser.String(strings.ToLower(strings.ReplaceAll(status, "_", " ")))
}
