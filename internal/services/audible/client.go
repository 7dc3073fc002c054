// Package audible wraps the audible CLI used to download books and read the
// account library.
package audible

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"bindery/internal/services/command"
)

// LibraryResponseGroups are requested when listing the whole library.
const LibraryResponseGroups = "media,contributors,series,product_attrs,product_desc"

// ItemResponseGroups are requested for a single book before conversion.
const ItemResponseGroups = "media,contributors,series,category_ladders"

// Person is an author or narrator.
type Person struct {
	Name string `json:"name"`
}

// Series links a book to its series.
type Series struct {
	Title    string `json:"title"`
	Sequence string `json:"sequence"`
}

// LibraryStatus carries account-specific fields.
type LibraryStatus struct {
	DateAdded string `json:"date_added"`
}

// Item is one library entry as returned by the Audible API.
type Item struct {
	ASIN                 string            `json:"asin"`
	Title                string            `json:"title"`
	Authors              []Person          `json:"authors"`
	Narrators            []Person          `json:"narrators"`
	Series               []Series          `json:"series"`
	RuntimeLengthMin     int               `json:"runtime_length_min"`
	ReleaseDate          string            `json:"release_date"`
	MerchandisingSummary string            `json:"merchandising_summary"`
	ProductImages        map[string]string `json:"product_images"`
	LibraryStatus        LibraryStatus     `json:"library_status"`
}

// FirstAuthor returns the primary author, or fallback when none is listed.
func (i Item) FirstAuthor(fallback string) string { return firstName(i.Authors, fallback) }

// FirstNarrator returns the primary narrator, or fallback when none is listed.
func (i Item) FirstNarrator(fallback string) string { return firstName(i.Narrators, fallback) }

// AuthorNames joins every author name.
func (i Item) AuthorNames() string { return joinNames(i.Authors) }

// NarratorNames joins every narrator name.
func (i Item) NarratorNames() string { return joinNames(i.Narrators) }

// Summary strips the paragraph markup Audible wraps summaries in.
func (i Item) Summary() string {
	replacer := strings.NewReplacer("</p>", "\n", "<p>", "", "<br />", "\n")
	return strings.TrimSpace(replacer.Replace(i.MerchandisingSummary))
}

func firstName(people []Person, fallback string) string {
	if len(people) == 0 || strings.TrimSpace(people[0].Name) == "" {
		return fallback
	}
	return people[0].Name
}

func joinNames(people []Person) string {
	names := make([]string, 0, len(people))
	for _, p := range people {
		names = append(names, p.Name)
	}
	return strings.Join(names, ", ")
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec command.Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client runs the audible CLI with HOME pointed at the account profile.
type Client struct {
	binary string
	home   string
	exec   command.Executor
}

// New constructs a client. home holds the audible-cli profile and auth files.
func New(binary, home string, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("audible binary required")
	}
	c := &Client{binary: binary, home: home, exec: command.System{}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) spec(args ...string) command.Spec {
	spec := command.Spec{Binary: c.binary, Args: args}
	if c.home != "" {
		spec.Env = []string{"HOME=" + c.home}
	}
	return spec
}

var percentPattern = regexp.MustCompile(`(\d{1,3})%`)

// Download fetches the AAXC audio, voucher, cover, and chapter file for asin
// into outDir. onPercent receives download progress from 0 to 100.
func (c *Client) Download(ctx context.Context, asin, outDir string, coverSize int, onPercent func(int)) error {
	spec := c.spec("download", "-a", asin, "--aaxc", "--cover",
		"--cover-size", strconv.Itoa(coverSize), "--chapter", "-o", outDir)
	err := c.exec.Run(ctx, spec, func(line string) {
		if onPercent == nil {
			return
		}
		if match := percentPattern.FindStringSubmatch(line); match != nil {
			if pct, err := strconv.Atoi(match[1]); err == nil && pct <= 100 {
				onPercent(pct)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("audible download %s: %w", asin, err)
	}
	return nil
}

// LibraryItem fetches metadata for one book.
func (c *Client) LibraryItem(ctx context.Context, asin string) (*Item, error) {
	out, err := c.exec.Output(ctx, c.spec("api", "-p", "response_groups="+ItemResponseGroups, "/1.0/library/"+asin))
	if err != nil {
		return nil, fmt.Errorf("audible api item %s: %w", asin, err)
	}
	var payload struct {
		Item *Item `json:"item"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return nil, fmt.Errorf("decode item %s: %w", asin, err)
	}
	if payload.Item == nil {
		return nil, fmt.Errorf("audible api item %s: empty response", asin)
	}
	return payload.Item, nil
}

// LibraryPage fetches one page of the account library. Pages start at 1; an
// empty slice marks the end.
func (c *Client) LibraryPage(ctx context.Context, page, pageSize int) ([]Item, error) {
	query := url.Values{}
	query.Set("num_results", strconv.Itoa(pageSize))
	query.Set("page", strconv.Itoa(page))
	query.Set("response_groups", LibraryResponseGroups)
	endpoint := "/1.0/library?" + query.Encode()
	out, err := c.exec.Output(ctx, c.spec("api", endpoint))
	if err != nil {
		return nil, fmt.Errorf("audible api library page %d: %w", page, err)
	}
	var payload struct {
		Items []Item `json:"items"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return nil, fmt.Errorf("decode library page %d: %w", page, err)
	}
	return payload.Items, nil
}

// ActivationBytes returns the account key used to decrypt legacy AAX files.
func (c *Client) ActivationBytes(ctx context.Context) (string, error) {
	out, err := c.exec.Output(ctx, c.spec("activation-bytes"))
	if err != nil {
		return "", fmt.Errorf("audible activation-bytes: %w", err)
	}
	value := strings.TrimSpace(string(out))
	if value == "" {
		return "", errors.New("audible activation-bytes: empty response")
	}
	return value, nil
}
