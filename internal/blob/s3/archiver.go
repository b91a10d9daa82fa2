package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kimpers/betchya/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"
	contentTypeJSON  = "application/json"

	snapshotPrefix = "snapshots/"
)

// JournalArchiveStore is the slice of domain.JournalStore the archiver reads.
type JournalArchiveStore interface {
	ListBefore(ctx context.Context, afterSeq uint64, before time.Time) ([]domain.JournalEntry, error)
}

// ArchiveImpl implements domain.Archiver. It copies old journal and audit
// rows to JSONL objects and writes JSON ledger snapshots. Rows are never
// deleted from Postgres here; the journal is the ledger's source of truth.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	journal JournalArchiveStore
	audit   domain.AuditStore

	// multipartThreshold switches uploads to PutMultipart at this size.
	multipartThreshold int64
}

// NewArchiver creates an ArchiveImpl. audit receives a record of every
// upload and is also the source for ArchiveAudit.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	journal JournalArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:             writer,
		reader:             reader,
		journal:            journal,
		audit:              audit,
		multipartThreshold: MinPartSize,
	}
}

// ArchiveJournal uploads journal entries committed before the cutoff that
// no earlier pass archived to archive/journal/YYYY-MM/<first>-<last>.jsonl.
// The watermark is the highest <last> already in the bucket.
func (a *ArchiveImpl) ArchiveJournal(ctx context.Context, before time.Time) (int64, error) {
	mark, err := a.watermark(ctx, "journal")
	if err != nil {
		return 0, err
	}
	entries, err := a.journal.ListBefore(ctx, mark, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive journal query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	path := archivePath("journal", before, entries[0].Seq, entries[len(entries)-1].Seq)
	return upload(ctx, a, "archive.journal", path, before, entries)
}

// ArchiveAudit uploads audit rows older than the cutoff and past the audit
// watermark to archive/audit/YYYY-MM/<first>-<last>.jsonl.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	mark, err := a.watermark(ctx, "audit")
	if err != nil {
		return 0, err
	}
	entries, err := a.audit.ListBefore(ctx, int64(mark), before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	path := archivePath("audit", before, uint64(entries[0].ID), uint64(entries[len(entries)-1].ID))
	return upload(ctx, a, "archive.audit", path, before, entries)
}

// watermark returns the highest id archived under archive/<kind>/, 0 when
// nothing has been archived yet. Objects whose names do not parse are
// ignored.
func (a *ArchiveImpl) watermark(ctx context.Context, kind string) (uint64, error) {
	infos, err := a.reader.List(ctx, "archive/"+kind+"/")
	if err != nil {
		return 0, fmt.Errorf("s3blob: %s watermark: %w", kind, err)
	}
	var mark uint64
	for _, info := range infos {
		if _, last, ok := parseArchiveRange(info.Path); ok && last > mark {
			mark = last
		}
	}
	return mark, nil
}

func upload[T any](ctx context.Context, a *ArchiveImpl, event, path string, before time.Time, records []T) (int64, error) {
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: %s: %w", event, err)
	}
	if exists {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: %s marshal: %w", event, err)
	}
	if int64(len(buf)) >= a.multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), MinPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: %s upload: %w", event, err)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, event, map[string]any{
		"path":   path,
		"count":  count,
		"bytes":  len(buf),
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: %s audit log: %w", event, err)
	}
	return count, nil
}

// Snapshot writes snap to snapshots/<version>.json and returns the path.
func (a *ArchiveImpl) Snapshot(ctx context.Context, snap domain.LedgerSnapshot) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal snapshot: %w", err)
	}
	path := snapshotPath(snap.Version)
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), contentTypeJSON); err != nil {
		return "", fmt.Errorf("s3blob: upload snapshot: %w", err)
	}
	if err := a.audit.Log(ctx, "archive.snapshot", map[string]any{
		"path":    path,
		"version": snap.Version,
		"bets":    len(snap.Bets),
	}); err != nil {
		return path, fmt.Errorf("s3blob: snapshot audit log: %w", err)
	}
	return path, nil
}

// LatestSnapshot loads the highest-version snapshot, or domain.ErrNotFound.
func (a *ArchiveImpl) LatestSnapshot(ctx context.Context) (domain.LedgerSnapshot, error) {
	infos, err := a.reader.List(ctx, snapshotPrefix)
	if err != nil {
		return domain.LedgerSnapshot{}, err
	}
	if len(infos) == 0 {
		return domain.LedgerSnapshot{}, fmt.Errorf("s3blob: no snapshots: %w", domain.ErrNotFound)
	}
	// Zero-padded versions sort lexically.
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })

	body, err := a.reader.Get(ctx, infos[len(infos)-1].Path)
	if err != nil {
		return domain.LedgerSnapshot{}, err
	}
	defer body.Close()

	var snap domain.LedgerSnapshot
	if err := json.NewDecoder(body).Decode(&snap); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("s3blob: decode snapshot: %w", err)
	}
	return snap, nil
}

// List passes through to the reader.
func (a *ArchiveImpl) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	if prefix != "" && !strings.HasPrefix(prefix, "archive/") && !strings.HasPrefix(prefix, snapshotPrefix) {
		return nil, errors.New("s3blob: prefix must start with archive/ or snapshots/")
	}
	return a.reader.List(ctx, prefix)
}

// archivePath partitions archives by the cutoff's year-month:
//
//	archive/journal/2025-01/1-4800.jsonl
//	archive/audit/2025-01/17-9021.jsonl
func archivePath(kind string, before time.Time, first, last uint64) string {
	return fmt.Sprintf("archive/%s/%s/%d-%d.jsonl", kind, before.Format("2006-01"), first, last)
}

// parseArchiveRange extracts first and last from .../<first>-<last>.jsonl.
func parseArchiveRange(p string) (first, last uint64, ok bool) {
	name, found := strings.CutSuffix(path.Base(p), ".jsonl")
	if !found {
		return 0, 0, false
	}
	lo, hi, found := strings.Cut(name, "-")
	if !found {
		return 0, 0, false
	}
	first, err := strconv.ParseUint(lo, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	last, err = strconv.ParseUint(hi, 10, 64)
	if err != nil || last < first {
		return 0, 0, false
	}
	return first, last, true
}

func snapshotPath(version uint64) string {
	return fmt.Sprintf("%s%020d.json", snapshotPrefix, version)
}

// marshalJSONL writes one compact JSON document per line.
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

var _ domain.Archiver = (*ArchiveImpl)(nil)
