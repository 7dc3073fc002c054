package convert

import (
	"fmt"
	"strings"
)

// metadataEscaper escapes the characters ffmpeg's FFMETADATA format treats
// specially. Newlines in the summary are kept as escaped line breaks.
var metadataEscaper = strings.NewReplacer(
	`\`, `\\`,
	"=", `\=`,
	";", `\;`,
	"#", `\#`,
	"\n", "\\\n",
)

func chapterMetadata(asin string, book BookInfo, chapters []Chapter) string {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	writeField(&b, "title", book.Title)
	writeField(&b, "artist", book.Authors)
	writeField(&b, "composer", book.Narrators)
	writeField(&b, "year", book.Year)
	writeField(&b, "copyright", book.Copyright)
	writeField(&b, "description", book.Summary)
	writeField(&b, "asin", asin)
	if book.Series != "" {
		writeField(&b, "series", book.Series)
		writeField(&b, "series-part", book.SeriesPart)
	}
	for _, ch := range chapters {
		title := ch.Title
		if title == "" {
			title = "Chapter"
		}
		b.WriteString("[CHAPTER]\nTIMEBASE=1/1000\n")
		fmt.Fprintf(&b, "START=%d\n", ch.StartOffsetMs)
		fmt.Fprintf(&b, "END=%d\n", ch.StartOffsetMs+ch.LengthMs)
		writeField(&b, "title", title)
	}
	return b.String()
}

func writeField(b *strings.Builder, key, value string) {
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(metadataEscaper.Replace(value))
	b.WriteByte('\n')
}
