package convert

import "context"

// Chapter is one entry from the downloaded chapter list.
type Chapter struct {
	Title         string `json:"title"`
	StartOffsetMs int64  `json:"start_offset_ms"`
	LengthMs      int64  `json:"length_ms"`
}

// BookInfo is the metadata written into the chapter file.
type BookInfo struct {
	Title      string
	Authors    string
	Narrators  string
	Year       string
	Summary    string
	Series     string
	SeriesPart string
	Copyright  string
}

// Prepared is everything the encode and merge phases need from Prepare.
type Prepared struct {
	DecryptionArgs []string
	AudioFile      string
	CoverFile      string
	ChapterFile    string
	Chapters       []Chapter
	Book           BookInfo
}

// Chunk addresses one chapter slice of the source audio.
type Chunk struct {
	Index           int
	Total           int
	StartSeconds    float64
	DurationSeconds float64
}

// ProgressFunc receives user-facing status updates.
type ProgressFunc func(text string, progress int)

// Preparer downloads a book and builds its conversion context.
type Preparer interface {
	Prepare(ctx context.Context, asin string, jobID int64, scratchDir string, progress ProgressFunc) (*Prepared, error)
}

// Encoder re-encodes one chunk and returns the chunk path.
type Encoder interface {
	Encode(ctx context.Context, asin string, jobID int64, scratchDir string, chunk Chunk, prepared *Prepared) (string, error)
}

// Merger joins encoded chunks into finalPath.
type Merger interface {
	Merge(ctx context.Context, asin string, jobID int64, scratchDir, finalPath string, prepared *Prepared, chunks []string) error
}

// Tools bundles the three phases.
type Tools interface {
	Preparer
	Encoder
	Merger
}

func noProgress(string, int) {}
