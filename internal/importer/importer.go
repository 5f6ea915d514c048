// Package importer loads orders exported by the previous storefront.
//
// Exports are gzip'd JSON-lines files, possibly overlapping. The import runs
// in two passes over all files in parallel: the first feeds every order ID
// into a bloom filter and collects the IDs it reports as already seen; the
// second decodes the records and resolves only those suspects against an
// exact set, so memory stays proportional to the number of duplicates.
package importer

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/preorder/internal/domain/order"
)

const maxLineSize = 1 << 20

// Store inserts imported orders. Import reports false when an order with the
// same ID already exists; the row is then left untouched.
type Store interface {
	Import(ctx context.Context, o *order.Order) (bool, error)
}

// Config tunes the import.
type Config struct {
	// ExpectedOrders sizes the bloom filter.
	ExpectedOrders uint
	// FalsePositiveRate of the bloom filter. False positives only cost an
	// exact-set entry.
	FalsePositiveRate float64
	// DryRun decodes and deduplicates without writing.
	DryRun bool
	// ProgressEvery logs progress every that many lines per file.
	ProgressEvery int64
}

// Stats summarises an import.
type Stats struct {
	Lines      int64
	Imported   int64
	Duplicates int64
	Existing   int64
	Rejected   int64
}

// Importer runs imports.
type Importer struct {
	store Store
	cfg   Config
	lg    *zap.Logger
}

// New creates an Importer. store may be nil for dry runs.
func New(store Store, cfg Config, lg *zap.Logger) (*Importer, error) {
	if store == nil && !cfg.DryRun {
		return nil, errors.New("importer: store is required")
	}
	if cfg.ExpectedOrders == 0 {
		cfg.ExpectedOrders = 1_000_000
	}
	if cfg.FalsePositiveRate <= 0 {
		cfg.FalsePositiveRate = 0.001
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 100_000
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Importer{store: store, cfg: cfg, lg: lg}, nil
}

// Run imports files. Malformed records are logged and counted as rejected;
// read and storage errors abort the run.
func (im *Importer) Run(ctx context.Context, files []string) (Stats, error) {
	if len(files) == 0 {
		return Stats{}, errors.New("no input files")
	}

	im.lg.Info("Pass 1: scanning order IDs", zap.Int("files", len(files)))
	suspects, err := im.findSuspects(ctx, files)
	if err != nil {
		return Stats{}, errors.Wrap(err, "scan ids")
	}
	im.lg.Info("Pass 1 complete", zap.Int("suspects", suspects.len()))

	im.lg.Info("Pass 2: importing orders", zap.Bool("dry_run", im.cfg.DryRun))
	var (
		stats Stats
		seen  = newIDSet()
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			return im.importFile(gctx, path, suspects, seen, &stats)
		})
	}
	if err := g.Wait(); err != nil {
		return snapshot(&stats), err
	}
	return snapshot(&stats), nil
}

// findSuspects returns every ID the shared bloom filter had already seen.
// Bloom filters have no false negatives, so any ID absent from the result
// occurs exactly once across all files.
func (im *Importer) findSuspects(ctx context.Context, files []string) (*idSet, error) {
	var (
		mu       sync.Mutex
		filter   = bloom.NewWithEstimates(im.cfg.ExpectedOrders, im.cfg.FalsePositiveRate)
		suspects = newIDSet()
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			return streamFile(ctx, path, func(line []byte) {
				id, err := peekID(line)
				if err != nil || id == "" {
					return
				}
				mu.Lock()
				dup := filter.TestAndAddString(id)
				mu.Unlock()
				if dup {
					suspects.add(id)
				}
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return suspects, nil
}

func (im *Importer) importFile(ctx context.Context, path string, suspects, seen *idSet, stats *Stats) error {
	lg := im.lg.With(zap.String("file", path))
	var (
		lines    int64
		storeErr error
	)
	err := streamFile(ctx, path, func(line []byte) {
		if storeErr != nil {
			return
		}
		lines++
		atomic.AddInt64(&stats.Lines, 1)
		if lines%im.cfg.ProgressEvery == 0 {
			lg.Info("Import progress", zap.Int64("lines", lines))
		}

		o, err := DecodeRecord(line)
		if err != nil {
			atomic.AddInt64(&stats.Rejected, 1)
			lg.Warn("Rejected record", zap.Int64("line", lines), zap.Error(err))
			return
		}
		if suspects.has(o.ID) && !seen.add(o.ID) {
			atomic.AddInt64(&stats.Duplicates, 1)
			return
		}
		if im.cfg.DryRun {
			atomic.AddInt64(&stats.Imported, 1)
			return
		}

		inserted, err := im.store.Import(ctx, o)
		switch {
		case err != nil:
			storeErr = errors.Wrapf(err, "import order %s", o.ID)
		case inserted:
			atomic.AddInt64(&stats.Imported, 1)
		default:
			atomic.AddInt64(&stats.Existing, 1)
		}
	})
	if err != nil {
		return err
	}
	if storeErr != nil {
		return storeErr
	}
	lg.Info("File imported", zap.Int64("lines", lines))
	return nil
}

// streamFile calls fn for every non-blank line of path. Files ending in .gz
// are decompressed with pgzip.
func streamFile(ctx context.Context, path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		fn(line)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// peekID extracts the order ID without decoding the rest of the record.
func peekID(line []byte) (string, error) {
	var id string
	err := jx.DecodeBytes(line).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id", "order_id", "orderId":
			s, err := d.Str()
			id = s
			return err
		default:
			return d.Skip()
		}
	})
	return id, err
}

func snapshot(s *Stats) Stats {
	return Stats{
		Lines:      atomic.LoadInt64(&s.Lines),
		Imported:   atomic.LoadInt64(&s.Imported),
		Duplicates: atomic.LoadInt64(&s.Duplicates),
		Existing:   atomic.LoadInt64(&s.Existing),
		Rejected:   atomic.LoadInt64(&s.Rejected),
	}
}

type idSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newIDSet() *idSet {
	return &idSet{ids: make(map[string]struct{})}
}

// add reports whether id was not yet present.
func (s *idSet) add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *idSet) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *idSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
