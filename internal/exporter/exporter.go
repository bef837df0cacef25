// Package exporter dumps save requests to a blob store as JSON lines.
package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/savecodenow/internal/savecode"
)

// ContentType is the media type of export objects.
const ContentType = "application/x-ndjson"

const defaultPageSize = 500

// BlobStore writes export objects and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Lister pages through save requests.
type Lister interface {
	ListRequests(ctx context.Context, filter savecode.ListFilter, page savecode.Page) ([]savecode.SaveRequest, error)
}

// Result describes a finished export.
type Result struct {
	URI   string
	Path  string
	Count int
}

// Exporter streams requests into one object per run.
type Exporter struct {
	lister   Lister
	blobs    BlobStore
	clock    savecode.Clock
	logger   *zap.Logger
	pageSize int
}

// New builds an Exporter. pageSize <= 0 uses the default.
func New(lister Lister, blobs BlobStore, clock savecode.Clock, logger *zap.Logger, pageSize int) (*Exporter, error) {
	if lister == nil || blobs == nil || clock == nil {
		return nil, fmt.Errorf("exporter: lister, blob store and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Exporter{lister: lister, blobs: blobs, clock: clock, logger: logger, pageSize: pageSize}, nil
}

// ObjectPath names the export object for the given prefix and time.
func (e *Exporter) ObjectPath(prefix string) string {
	name := fmt.Sprintf("save-requests-%s.jsonl", e.clock.Now().UTC().Format("20060102T150405Z"))
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// Export writes every request, newest first, to prefix/save-requests-<ts>.jsonl.
func (e *Exporter) Export(ctx context.Context, prefix string) (Result, error) {
	objectPath := e.ObjectPath(prefix)
	pr, pw := io.Pipe()

	counted := make(chan int, 1)
	go func() {
		n, err := e.write(ctx, pw)
		counted <- n
		pw.CloseWithError(err)
	}()

	uri, err := e.blobs.PutObject(ctx, objectPath, ContentType, pr)
	// Unblock the writer when the store stopped reading early.
	pr.CloseWithError(io.ErrClosedPipe)
	count := <-counted
	if err != nil {
		return Result{}, fmt.Errorf("put export object: %w", err)
	}
	e.logger.Info("exported save requests",
		zap.String("uri", uri),
		zap.Int("count", count),
	)
	return Result{URI: uri, Path: objectPath, Count: count}, nil
}

func (e *Exporter) write(ctx context.Context, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	count := 0
	for offset := 0; ; offset += e.pageSize {
		page, err := e.lister.ListRequests(ctx, savecode.ListFilter{}, savecode.Page{Limit: e.pageSize, Offset: offset})
		if err != nil {
			return count, fmt.Errorf("list requests at offset %d: %w", offset, err)
		}
		for _, req := range page {
			if err := enc.Encode(req); err != nil {
				return count, fmt.Errorf("encode request %d: %w", req.ID, err)
			}
			count++
		}
		if len(page) < e.pageSize {
			return count, nil
		}
	}
}
