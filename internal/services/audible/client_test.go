package audible_test

import (
	"context"
	"strings"
	"testing"

	"bindery/internal/services/audible"
	"bindery/internal/services/command"
)

type fakeExecutor struct {
	specs  []command.Spec
	lines  []string
	output map[string]string
}

func (f *fakeExecutor) Run(_ context.Context, spec command.Spec, onLine func(string)) error {
	f.specs = append(f.specs, spec)
	for _, line := range f.lines {
		onLine(line)
	}
	return nil
}

func (f *fakeExecutor) Output(_ context.Context, spec command.Spec) ([]byte, error) {
	f.specs = append(f.specs, spec)
	return []byte(f.output[spec.Args[0]]), nil
}

func TestDownloadParsesProgress(t *testing.T) {
	exec := &fakeExecutor{lines: []string{"starting", "B001.aaxc: 12%|##", "B001.aaxc: 100%|####", "999% bogus"}}
	client, err := audible.New("audible", "/home/audible", audible.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var seen []int
	if err := client.Download(context.Background(), "B001", "/tmp/out", 1215, func(p int) { seen = append(seen, p) }); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(seen) != 2 || seen[0] != 12 || seen[1] != 100 {
		t.Fatalf("progress = %v", seen)
	}
	spec := exec.specs[0]
	want := "download -a B001 --aaxc --cover --cover-size 1215 --chapter -o /tmp/out"
	if strings.Join(spec.Args, " ") != want {
		t.Fatalf("args = %q", strings.Join(spec.Args, " "))
	}
	if len(spec.Env) != 1 || spec.Env[0] != "HOME=/home/audible" {
		t.Fatalf("env = %v", spec.Env)
	}
}

func TestLibraryItemAndPage(t *testing.T) {
	exec := &fakeExecutor{output: map[string]string{}}
	client, _ := audible.New("audible", "", audible.WithExecutor(exec))

	exec.output["api"] = `{"item":{"asin":"B001","title":"Dune","authors":[{"name":"Frank Herbert"}],
		"narrators":[{"name":"Scott Brick"},{"name":"Orlagh Cassidy"}],"series":[{"title":"Dune","sequence":"1"}],
		"merchandising_summary":"<p>Spice.</p>"}}`
	item, err := client.LibraryItem(context.Background(), "B001")
	if err != nil {
		t.Fatalf("LibraryItem: %v", err)
	}
	if item.FirstAuthor("N/A") != "Frank Herbert" || item.NarratorNames() != "Scott Brick, Orlagh Cassidy" {
		t.Fatalf("unexpected people: %+v", item)
	}
	if item.Summary() != "Spice." {
		t.Fatalf("summary = %q", item.Summary())
	}
	if got := strings.Join(exec.specs[0].Args, " "); got != "api -p response_groups=media,contributors,series,category_ladders /1.0/library/B001" {
		t.Fatalf("item args = %q", got)
	}
	if len(exec.specs[0].Env) != 0 {
		t.Fatalf("unexpected env without home: %v", exec.specs[0].Env)
	}

	exec.output["api"] = `{"items":[{"asin":"B001"},{"asin":"B002"}]}`
	items, err := client.LibraryPage(context.Background(), 2, 1000)
	if err != nil {
		t.Fatalf("LibraryPage: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %+v", items)
	}
	endpoint := exec.specs[1].Args[1]
	if !strings.HasPrefix(endpoint, "/1.0/library?") || !strings.Contains(endpoint, "page=2") || !strings.Contains(endpoint, "num_results=1000") {
		t.Fatalf("endpoint = %q", endpoint)
	}
}

func TestActivationBytesRejectsEmpty(t *testing.T) {
	exec := &fakeExecutor{output: map[string]string{"activation-bytes": "  \n"}}
	client, _ := audible.New("audible", "", audible.WithExecutor(exec))
	if _, err := client.ActivationBytes(context.Background()); err == nil {
		t.Fatal("expected error for empty activation bytes")
	}
	if _, err := audible.New(" ", ""); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestItemFallbacks(t *testing.T) {
	item := audible.Item{}
	if item.FirstAuthor("N/A") != "N/A" || item.FirstNarrator("") != "" {
		t.Fatal("fallbacks not applied")
	}
}
