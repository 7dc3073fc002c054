package testsupport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"bindery/internal/services/command"
)

// FakeBook describes a title the fake audible CLI knows about.
type FakeBook struct {
	ASIN       string
	Title      string
	Author     string
	Narrator   string
	Series     string
	RuntimeMin int
	// ChapterLengthsMs drives the downloaded chapter list; empty means no
	// chapter information.
	ChapterLengthsMs []int64
	// CoverURL is reported as product_images["500"].
	CoverURL string
	// LegacyAAX downloads an .aax file without a voucher.
	LegacyAAX bool
}

// FakeTools is a command.Executor that imitates the audible CLI, ffmpeg,
// and ffprobe closely enough for conversion and sync tests. Files the real
// tools would write are created with placeholder content.
type FakeTools struct {
	mu    sync.Mutex
	books map[string]FakeBook
	order []string
	tags  map[string]string
	calls []command.Spec

	// PageSize splits the library listing; zero returns everything on page 1.
	PageSize int
	// Fail, when set, is consulted before every invocation.
	Fail func(spec command.Spec) error
}

// NewFakeTools returns a fake that knows the given books.
func NewFakeTools(books ...FakeBook) *FakeTools {
	f := &FakeTools{books: make(map[string]FakeBook), tags: make(map[string]string)}
	for _, book := range books {
		f.AddBook(book)
	}
	return f
}

// AddBook registers a book with the fake library.
func (f *FakeTools) AddBook(book FakeBook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.books[book.ASIN]; !ok {
		f.order = append(f.order, book.ASIN)
	}
	f.books[book.ASIN] = book
}

// TagFile makes ffprobe report asin for path.
func (f *FakeTools) TagFile(path, asin string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[path] = asin
}

// Calls returns a copy of every recorded invocation.
func (f *FakeTools) Calls() []command.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]command.Spec(nil), f.calls...)
}

// CallsMatching counts invocations whose binary base name and first
// argument match.
func (f *FakeTools) CallsMatching(binary, firstArg string) int {
	count := 0
	for _, spec := range f.Calls() {
		if filepath.Base(spec.Binary) != binary {
			continue
		}
		if firstArg == "" || (len(spec.Args) > 0 && spec.Args[0] == firstArg) {
			count++
		}
	}
	return count
}

func (f *FakeTools) record(spec command.Spec) error {
	f.mu.Lock()
	f.calls = append(f.calls, spec)
	fail := f.Fail
	f.mu.Unlock()
	if fail != nil {
		return fail(spec)
	}
	return nil
}

// Run implements command.Executor.
func (f *FakeTools) Run(ctx context.Context, spec command.Spec, onLine func(string)) error {
	if err := f.record(spec); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if filepath.Base(spec.Binary) == "audible" && len(spec.Args) > 0 && spec.Args[0] == "download" {
		if err := f.download(spec.Args); err != nil {
			return err
		}
		if onLine != nil {
			onLine("downloading: 50%")
			onLine("downloading: 100%")
		}
		return nil
	}
	_, err := f.output(spec)
	return err
}

// Output implements command.Executor.
func (f *FakeTools) Output(ctx context.Context, spec command.Spec) ([]byte, error) {
	if err := f.record(spec); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.output(spec)
}

func (f *FakeTools) output(spec command.Spec) ([]byte, error) {
	switch filepath.Base(spec.Binary) {
	case "audible":
		return f.audible(spec.Args)
	case "ffprobe":
		return f.ffprobe(spec.Args)
	case "ffmpeg":
		return nil, f.ffmpeg(spec)
	default:
		return nil, fmt.Errorf("fake tools: unknown binary %q", spec.Binary)
	}
}

func (f *FakeTools) book(asin string) (FakeBook, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	book, ok := f.books[asin]
	return book, ok
}

func (f *FakeTools) download(args []string) error {
	asin, dir := flagValue(args, "-a"), flagValue(args, "-o")
	book, ok := f.book(asin)
	if !ok {
		return fmt.Errorf("fake audible: unknown asin %s", asin)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	files := map[string][]byte{asin + "_(1215).jpg": []byte("cover")}
	if book.LegacyAAX {
		files[asin+".aax"] = []byte("audio")
	} else {
		files[asin+".aaxc"] = []byte("audio")
		files[asin+".voucher"] = []byte(`{"content_license":{"license_response":{"key":"k3y","iv":"1v"}}}`)
	}
	chapters := make([]map[string]any, 0, len(book.ChapterLengthsMs))
	var offset int64
	for i, length := range book.ChapterLengthsMs {
		chapters = append(chapters, map[string]any{
			"title":           fmt.Sprintf("Chapter %d", i+1),
			"start_offset_ms": offset,
			"length_ms":       length,
		})
		offset += length
	}
	list, err := json.Marshal(map[string]any{
		"content_metadata": map[string]any{"chapter_info": map[string]any{"chapters": chapters}},
	})
	if err != nil {
		return err
	}
	files[asin+"-chapters.json"] = list
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeTools) audible(args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, errors.New("fake audible: no subcommand")
	}
	switch args[0] {
	case "activation-bytes":
		return []byte("deadbeef\n"), nil
	case "api":
		endpoint := args[len(args)-1]
		if rest, ok := strings.CutPrefix(endpoint, "/1.0/library/"); ok {
			book, found := f.book(rest)
			if !found {
				return nil, fmt.Errorf("fake audible: unknown asin %s", rest)
			}
			return json.Marshal(map[string]any{"item": itemJSON(book)})
		}
		if query, ok := strings.CutPrefix(endpoint, "/1.0/library?"); ok {
			return f.libraryPage(query)
		}
		return nil, fmt.Errorf("fake audible: unknown endpoint %s", endpoint)
	default:
		return nil, fmt.Errorf("fake audible: unknown subcommand %s", args[0])
	}
}

func (f *FakeTools) libraryPage(rawQuery string) ([]byte, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, err
	}
	page, _ := strconv.Atoi(values.Get("page"))
	f.mu.Lock()
	asins := append([]string(nil), f.order...)
	size := f.PageSize
	f.mu.Unlock()
	if size <= 0 {
		size = len(asins)
	}
	start := (page - 1) * size
	items := []any{}
	for i := start; i >= 0 && i < len(asins) && i < start+size; i++ {
		book, _ := f.book(asins[i])
		items = append(items, itemJSON(book))
	}
	return json.Marshal(map[string]any{"items": items})
}

func itemJSON(book FakeBook) map[string]any {
	item := map[string]any{
		"asin":                  book.ASIN,
		"title":                 book.Title,
		"runtime_length_min":    book.RuntimeMin,
		"release_date":          "2020-05-01",
		"merchandising_summary": "<p>A fake book.</p>",
		"library_status":        map[string]any{"date_added": "2024-01-02T03:04:05Z"},
	}
	if book.Author != "" {
		item["authors"] = []map[string]string{{"name": book.Author}}
	}
	if book.Narrator != "" {
		item["narrators"] = []map[string]string{{"name": book.Narrator}}
	}
	if book.Series != "" {
		item["series"] = []map[string]string{{"title": book.Series, "sequence": "1"}}
	}
	if book.CoverURL != "" {
		item["product_images"] = map[string]string{"500": book.CoverURL}
	}
	return item
}

func (f *FakeTools) ffprobe(args []string) ([]byte, error) {
	tag := ""
	for _, arg := range args {
		if rest, ok := strings.CutPrefix(arg, "format_tags="); ok {
			tag = rest
		}
	}
	path := args[len(args)-1]
	switch tag {
	case "asin":
		f.mu.Lock()
		defer f.mu.Unlock()
		return []byte(f.tags[path] + "\n"), nil
	case "copyright":
		return []byte("2020 Fake Publishing\n"), nil
	default:
		return nil, nil
	}
}

// ffmpeg writes its final argument, relative to spec.Dir when set.
func (f *FakeTools) ffmpeg(spec command.Spec) error {
	if len(spec.Args) == 0 {
		return errors.New("fake ffmpeg: no arguments")
	}
	out := spec.Args[len(spec.Args)-1]
	if !filepath.IsAbs(out) && spec.Dir != "" {
		out = filepath.Join(spec.Dir, out)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	return os.WriteFile(out, []byte("media"), 0o644)
}

func flagValue(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
