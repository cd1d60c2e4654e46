// Package knowledge builds, persists and searches the interview knowledge base.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/maastricht-university/viva-pipeline/logging"
)

var (
	// ErrEmptyCorpus means a build found no documents with text. The returned
	// index is still usable; every query yields no matches.
	ErrEmptyCorpus = errors.New("knowledge: empty corpus")
	// ErrIndexNotFound means no persisted index exists at the given path.
	ErrIndexNotFound = errors.New("knowledge: index not found")
)

// Patterns are the corpus files picked up by Build.
var Patterns = []string{"**/*.txt", "**/*.md"}

// Chunk is an immutable unit of corpus text with its embedding.
type Chunk struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Ordinal   int       `json:"ordinal"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
}

// Match is a chunk with its similarity to a query.
type Match struct {
	Chunk
	Score float64 `json:"score"`
}

type Options struct {
	ChunkSize    int
	ChunkOverlap int
	// Workers bounds concurrent embedding calls during Build.
	Workers int
	// PersistPath, when set, is the sqlite file the built index is written to.
	PersistPath string
	Log         logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 1000
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = 0
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Log == nil {
		o.Log = logging.Discard()
	}
	return o
}

// Index is read-only after construction and safe for concurrent queries.
type Index struct {
	chunks   []Chunk
	embedder Embedder
}

// Build reads every matching document under dir, chunks and embeds it. When no
// text is found it returns an empty index together with ErrEmptyCorpus.
func Build(ctx context.Context, dir string, emb Embedder, opts Options) (*Index, error) {
	opts = opts.withDefaults()
	log := opts.Log.WithField("component", "knowledge")

	paths, err := discover(dir)
	if err != nil {
		return nil, err
	}

	var chunks []Chunk
	for _, p := range paths {
		b, err := os.ReadFile(filepath.Join(dir, p))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		for _, text := range split(string(b), opts.ChunkSize, opts.ChunkOverlap) {
			chunks = append(chunks, Chunk{
				ID:      ulid.Make().String(),
				Source:  p,
				Ordinal: len(chunks),
				Text:    text,
			})
		}
	}

	idx := &Index{embedder: emb}
	if len(chunks) == 0 {
		log.WithField("dir", dir).Warn("no documents found, dialogue will run ungrounded")
		return idx, ErrEmptyCorpus
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := range chunks {
		g.Go(func() error {
			v, err := emb.Embed(gctx, chunks[i].Text)
			if err != nil {
				return fmt.Errorf("embed chunk %d of %s: %w", chunks[i].Ordinal, chunks[i].Source, err)
			}
			chunks[i].Embedding = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	idx.chunks = chunks

	if opts.PersistPath != "" {
		if err := save(ctx, opts.PersistPath, emb.Name(), opts, chunks); err != nil {
			return nil, err
		}
	}
	log.WithFields(logrus.Fields{"documents": len(paths), "chunks": len(chunks)}).Info("knowledge base built")
	return idx, nil
}

// Load restores a persisted index. It never builds; a missing file is
// reported as ErrIndexNotFound so the caller can decide.
func Load(ctx context.Context, path string, emb Embedder) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, path)
		}
		return nil, err
	}
	chunks, err := load(ctx, path, emb.Name(), func() (int, error) { return embedDims(ctx, emb) })
	if err != nil {
		return nil, err
	}
	return &Index{chunks: chunks, embedder: emb}, nil
}

// embedDims is the vector length emb produces. Embedders that do not report
// it are asked to embed a short sample.
func embedDims(ctx context.Context, emb Embedder) (int, error) {
	if d, ok := emb.(interface{ Dims() int }); ok {
		return d.Dims(), nil
	}
	v, err := emb.Embed(ctx, "dimension check")
	if err != nil {
		return 0, fmt.Errorf("embed sample: %w", err)
	}
	return len(v), nil
}

// LoadOrBuild loads the index at opts.PersistPath and builds it from dir when
// none exists. ErrEmptyCorpus from the build is passed through with the index.
func LoadOrBuild(ctx context.Context, dir string, emb Embedder, opts Options) (*Index, error) {
	if opts.PersistPath != "" {
		idx, err := Load(ctx, opts.PersistPath, emb)
		if err == nil {
			return idx, nil
		}
		if !errors.Is(err, ErrIndexNotFound) {
			return nil, err
		}
	}
	return Build(ctx, dir, emb, opts)
}

// Query returns up to k chunks ranked by cosine similarity to text, ties
// broken by insertion order. An empty index yields no matches.
func (x *Index) Query(ctx context.Context, text string, k int) ([]Match, error) {
	if x == nil || len(x.chunks) == 0 || k <= 0 || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	q, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	matches := make([]Match, len(x.chunks))
	for i, c := range x.chunks {
		matches[i] = Match{Chunk: c, Score: cosine(q, c.Embedding)}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Len reports the number of chunks.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.chunks)
}

func discover(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus %s is not a directory", dir)
	}

	fsys := os.DirFS(dir)
	seen := map[string]struct{}{}
	var out []string
	for _, pat := range Patterns {
		matches, err := doublestar.Glob(fsys, pat, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pat, err)
		}
		for _, m := range matches {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
