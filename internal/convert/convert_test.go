package convert_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bindery/internal/convert"
	"bindery/internal/services"
	"bindery/internal/services/command"
	"bindery/internal/testsupport"
)

func newConverter(t *testing.T, tools *testsupport.FakeTools) *convert.Converter {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	conv, err := convert.NewFromConfig(cfg, tools, nil)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	return conv
}

func dune() testsupport.FakeBook {
	return testsupport.FakeBook{
		ASIN:             "B001",
		Title:            "Dune",
		Author:           "Frank Herbert",
		Narrator:         "Scott Brick",
		Series:           "Dune",
		RuntimeMin:       120,
		ChapterLengthsMs: []int64{60000, 90500},
	}
}

type progressLog struct {
	texts  []string
	values []int
}

func (p *progressLog) record(text string, value int) {
	p.texts = append(p.texts, text)
	p.values = append(p.values, value)
}

func TestPrepareBuildsContext(t *testing.T) {
	tools := testsupport.NewFakeTools(dune())
	conv := newConverter(t, tools)
	scratch := t.TempDir()

	var progress progressLog
	prepared, err := conv.Prepare(context.Background(), "B001", 7, scratch, progress.record)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	wantTexts := []string{"Downloading...", "Downloading... 50%", "Downloading... 100%", "Preparing metadata..."}
	wantValues := []int{5, 15, 25, 25}
	if strings.Join(progress.texts, "|") != strings.Join(wantTexts, "|") {
		t.Fatalf("progress texts = %v", progress.texts)
	}
	for i, want := range wantValues {
		if progress.values[i] != want {
			t.Fatalf("progress values = %v, want %v", progress.values, wantValues)
		}
	}

	if strings.Join(prepared.DecryptionArgs, " ") != "-audible_key k3y -audible_iv 1v" {
		t.Fatalf("decryption args = %v", prepared.DecryptionArgs)
	}
	if len(prepared.Chapters) != 2 || prepared.Chapters[1].StartOffsetMs != 60000 || prepared.Chapters[1].LengthMs != 90500 {
		t.Fatalf("chapters = %+v", prepared.Chapters)
	}
	if filepath.Ext(prepared.AudioFile) != ".aaxc" || filepath.Ext(prepared.CoverFile) != ".jpg" {
		t.Fatalf("unexpected assets: %+v", prepared)
	}

	data, err := os.ReadFile(prepared.ChapterFile)
	if err != nil {
		t.Fatalf("read chapter file: %v", err)
	}
	text := string(data)
	for _, want := range []string{
		";FFMETADATA1\n",
		"title=Dune\n",
		"artist=Frank Herbert\n",
		"composer=Scott Brick\n",
		"year=2020\n",
		"copyright=2020 Fake Publishing\n",
		"description=A fake book.\n",
		"asin=B001\n",
		"series=Dune\nseries-part=1\n",
		"[CHAPTER]\nTIMEBASE=1/1000\nSTART=60000\nEND=150500\ntitle=Chapter 2\n",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("chapter file missing %q:\n%s", want, text)
		}
	}
}

func TestPrepareUsesActivationBytesForAAX(t *testing.T) {
	book := dune()
	book.LegacyAAX = true
	tools := testsupport.NewFakeTools(book)
	conv := newConverter(t, tools)

	prepared, err := conv.Prepare(context.Background(), "B001", 1, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if strings.Join(prepared.DecryptionArgs, " ") != "-activation_bytes deadbeef" {
		t.Fatalf("decryption args = %v", prepared.DecryptionArgs)
	}
}

func TestPrepareRetriesDownload(t *testing.T) {
	tools := testsupport.NewFakeTools(dune())
	failures := 1
	tools.Fail = func(spec command.Spec) error {
		if len(spec.Args) > 0 && spec.Args[0] == "download" && failures > 0 {
			failures--
			return errors.New("connection reset")
		}
		return nil
	}
	base := newConverter(t, tools)
	conv := convert.New(base.Audible(), base.FFmpeg(), convert.WithRetryDelay(0))

	if _, err := conv.Prepare(context.Background(), "B001", 1, t.TempDir(), nil); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if got := tools.CallsMatching("audible", "download"); got != 2 {
		t.Fatalf("download calls = %d, want 2", got)
	}
}

func TestPrepareFailureIsTagged(t *testing.T) {
	tools := testsupport.NewFakeTools(dune())
	tools.Fail = func(spec command.Spec) error {
		if len(spec.Args) > 0 && spec.Args[0] == "download" {
			return errors.New("forbidden")
		}
		return nil
	}
	base := newConverter(t, tools)
	conv := convert.New(base.Audible(), base.FFmpeg(), convert.WithRetryDelay(0), convert.WithDownloadAttempts(2))

	_, err := conv.Prepare(context.Background(), "B001", 1, t.TempDir(), nil)
	if !errors.Is(err, services.ErrPrepare) {
		t.Fatalf("expected ErrPrepare, got %v", err)
	}
	if got := tools.CallsMatching("audible", "download"); got != 2 {
		t.Fatalf("download calls = %d, want 2", got)
	}
}

func TestPrepareRequiresCriticalFiles(t *testing.T) {
	tools := testsupport.NewFakeTools(dune())
	conv := newConverter(t, tools)
	scratch := t.TempDir()
	tools.Fail = func(spec command.Spec) error {
		if len(spec.Args) > 0 && spec.Args[0] == "api" {
			_ = os.Remove(filepath.Join(scratch, "B001_(1215).jpg"))
		}
		return nil
	}
	_, err := conv.Prepare(context.Background(), "B001", 1, scratch, nil)
	if !errors.Is(err, services.ErrPrepare) || !strings.Contains(err.Error(), "cover") {
		t.Fatalf("expected missing cover error, got %v", err)
	}
}

func TestEncodeAndMerge(t *testing.T) {
	tools := testsupport.NewFakeTools(dune())
	conv := newConverter(t, tools)
	scratch := t.TempDir()
	ctx := context.Background()

	prepared, err := conv.Prepare(ctx, "B001", 1, scratch, nil)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	var chunks []string
	for i, ch := range prepared.Chapters {
		out, err := conv.Encode(ctx, "B001", 1, scratch, convert.Chunk{
			Index:           i,
			Total:           len(prepared.Chapters),
			StartSeconds:    float64(ch.StartOffsetMs) / 1000,
			DurationSeconds: float64(ch.LengthMs) / 1000,
		}, prepared)
		if err != nil {
			t.Fatalf("Encode %d: %v", i, err)
		}
		chunks = append(chunks, out)
	}
	if filepath.Base(chunks[1]) != "chunk_001.m4b" {
		t.Fatalf("chunk name = %s", chunks[1])
	}

	var encodeArgs string
	for _, spec := range tools.Calls() {
		if filepath.Base(spec.Binary) == "ffmpeg" && strings.Contains(strings.Join(spec.Args, " "), "chunk_001") {
			encodeArgs = strings.Join(spec.Args, " ")
		}
	}
	if !strings.Contains(encodeArgs, "-ss 60 -i") || !strings.Contains(encodeArgs, "-t 90.5") || !strings.Contains(encodeArgs, "-b:a 128k") {
		t.Fatalf("unexpected encode args: %s", encodeArgs)
	}

	final := filepath.Join(t.TempDir(), "Frank Herbert", "Dune", "Frank Herbert - Dune.m4b")
	if err := conv.Merge(ctx, "B001", 1, scratch, final, prepared, chunks); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if _, err := os.Stat(final); err != nil {
		t.Fatalf("final file missing: %v", err)
	}
	list, err := os.ReadFile(filepath.Join(scratch, convert.MergeListName))
	if err != nil {
		t.Fatalf("read merge list: %v", err)
	}
	if string(list) != "file 'chunk_000.m4b'\nfile 'chunk_001.m4b'\n" {
		t.Fatalf("merge list = %q", list)
	}
}

func TestMergeWithoutChunksFails(t *testing.T) {
	conv := newConverter(t, testsupport.NewFakeTools())
	err := conv.Merge(context.Background(), "B001", 1, t.TempDir(), "/nowhere.m4b", &convert.Prepared{}, nil)
	if !errors.Is(err, services.ErrMerge) {
		t.Fatalf("expected ErrMerge, got %v", err)
	}
}
