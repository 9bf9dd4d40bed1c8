package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/skinarb/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// DealArchiveStore is the slice of the deal store the archiver reads and
// prunes.
type DealArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.DealResult, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditArchiveStore is the slice of the audit store the archiver reads and
// prunes.
type AuditArchiveStore interface {
	domain.AuditStore
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiverConfig tunes an Archiver.
type ArchiverConfig struct {
	// Prune deletes archived rows from the primary store after every
	// monthly file of the run uploaded.
	Prune bool
	// MultipartThreshold switches uploads to multipart above this size.
	MultipartThreshold int64
}

// Archiver implements domain.Archiver. Records are grouped by calendar month
// and written as JSONL to archive/{kind}/YYYY-MM.jsonl. A month that already
// has a file gets a timestamp suffix instead of overwriting it.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	deals  DealArchiveStore
	audit  AuditArchiveStore
	cfg    ArchiverConfig
	now    func() time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	deals DealArchiveStore,
	audit AuditArchiveStore,
	cfg ArchiverConfig,
	now func() time.Time,
) *Archiver {
	if cfg.MultipartThreshold <= 0 {
		cfg.MultipartThreshold = 4 * minPartSize
	}
	return &Archiver{
		writer: writer,
		reader: reader,
		deals:  deals,
		audit:  audit,
		cfg:    cfg,
		now:    now,
	}
}

var _ domain.Archiver = (*Archiver)(nil)

// ArchiveDeals uploads every deal result completed before the cutoff and
// returns how many were archived.
func (a *Archiver) ArchiveDeals(ctx context.Context, before time.Time) (int64, error) {
	results, err := a.deals.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive deal results query: %w", err)
	}
	months := groupByMonth(results, func(r domain.DealResult) time.Time { return r.CompletedAt })
	n, err := a.archive(ctx, "deal_results", before, months)
	if err != nil {
		return n, err
	}
	if a.cfg.Prune && n > 0 {
		if _, err := a.deals.DeleteBefore(ctx, before); err != nil {
			return n, fmt.Errorf("s3blob: prune deal results: %w", err)
		}
	}
	return n, nil
}

// ArchiveAudit uploads every audit entry created before the cutoff.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	months := groupByMonth(entries, func(e domain.AuditEntry) time.Time { return e.CreatedAt })
	n, err := a.archive(ctx, "audit_log", before, months)
	if err != nil {
		return n, err
	}
	if a.cfg.Prune && n > 0 {
		if _, err := a.audit.DeleteBefore(ctx, before); err != nil {
			return n, fmt.Errorf("s3blob: prune audit log: %w", err)
		}
	}
	return n, nil
}

// monthBatch is the JSONL body for one calendar month.
type monthBatch struct {
	month time.Time
	count int64
	body  []byte
	err   error
}

func groupByMonth[T any](records []T, at func(T) time.Time) []monthBatch {
	grouped := make(map[time.Time][]T)
	for _, r := range records {
		t := at(r).UTC()
		m := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		grouped[m] = append(grouped[m], r)
	}
	out := make([]monthBatch, 0, len(grouped))
	for m, recs := range grouped {
		body, err := marshalJSONL(recs)
		out = append(out, monthBatch{month: m, count: int64(len(recs)), body: body, err: err})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].month.Before(out[j].month) })
	return out
}

func (a *Archiver) archive(ctx context.Context, kind string, before time.Time, batches []monthBatch) (int64, error) {
	var total int64
	for _, b := range batches {
		if b.err != nil {
			return total, fmt.Errorf("s3blob: archive %s marshal: %w", kind, b.err)
		}
		path, err := a.freePath(ctx, kind, b.month)
		if err != nil {
			return total, err
		}
		if err := a.upload(ctx, path, b.body); err != nil {
			return total, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
		}
		total += b.count

		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":   path,
			"count":  b.count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return total, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return total, nil
}

// freePath returns archive/{kind}/YYYY-MM.jsonl, or a suffixed variant when
// that object already exists.
func (a *Archiver) freePath(ctx context.Context, kind string, month time.Time) (string, error) {
	path := archivePath(kind, month)
	if a.reader == nil {
		return path, nil
	}
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}
	if !exists {
		return path, nil
	}
	return fmt.Sprintf("archive/%s/%s-%d.jsonl", kind, month.Format("2006-01"), a.now().Unix()), nil
}

func (a *Archiver) upload(ctx context.Context, path string, body []byte) error {
	if int64(len(body)) > a.cfg.MultipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(body), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(body), contentTypeJSONL)
}

// archivePath builds the object key for a month, e.g.
//
//	archive/deal_results/2026-01.jsonl
func archivePath(kind string, month time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month.Format("2006-01"))
}

// marshalJSONL encodes one compact JSON document per line.
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
