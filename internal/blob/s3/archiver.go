package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/marketgate/internal/arbitrage"
)

// BlobWriter is the narrow upload interface the archiver needs; *Writer
// satisfies it.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver uploads arbitrage scan results as JSONL, one object per scan,
// partitioned by date so downstream tooling can list a day's scans cheaply.
type Archiver struct {
	writer BlobWriter
}

// NewArchiver creates an Archiver uploading through the given writer.
func NewArchiver(writer BlobWriter) *Archiver {
	return &Archiver{writer: writer}
}

// ArchiveScan uploads one scan's opportunities to
// scans/YYYY-MM-DD/HHMMSS.jsonl and returns the object key. Empty scans are
// skipped and return an empty key.
func (a *Archiver) ArchiveScan(ctx context.Context, scannedAt time.Time, opps []arbitrage.Opportunity) (string, error) {
	if len(opps) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(opps)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive scan marshal: %w", err)
	}

	path := scanPath(scannedAt)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("s3blob: archive scan upload: %w", err)
	}
	return path, nil
}

// scanPath builds the object key for one scan, partitioned by date:
//
//	scans/2025-01-31/154502.jsonl
func scanPath(scannedAt time.Time) string {
	t := scannedAt.UTC()
	return fmt.Sprintf("scans/%s/%s.jsonl", t.Format("2006-01-02"), t.Format("150405"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON. Each
// element is one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
