package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kimpers/betchya/internal/domain"
	"github.com/kimpers/betchya/internal/metrics"
)

// SnapshotSource provides the state to snapshot.
type SnapshotSource interface {
	Snapshot() domain.LedgerSnapshot
}

// ArchiveReport summarises one archive pass.
type ArchiveReport struct {
	Before       time.Time `json:"before"`
	Journal      int64     `json:"journal"`
	Audit        int64     `json:"audit"`
	SnapshotPath string    `json:"snapshot_path"`
	Version      uint64    `json:"version"`
}

// ArchiveService copies journal and audit rows older than the retention
// window to cold storage and uploads a ledger snapshot.
type ArchiveService struct {
	archiver  domain.Archiver
	source    SnapshotSource
	retention time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *slog.Logger
}

func NewArchiveService(archiver domain.Archiver, source SnapshotSource, retention time.Duration, logger *slog.Logger) *ArchiveService {
	return &ArchiveService{
		archiver:  archiver,
		source:    source,
		retention: retention,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *ArchiveService) WithMetrics(m *metrics.Metrics) *ArchiveService {
	s.metrics = m
	return s
}

// RunOnce performs one archive pass. The snapshot is taken even when no
// rows have aged out.
func (s *ArchiveService) RunOnce(ctx context.Context) (ArchiveReport, error) {
	report := ArchiveReport{Before: s.now().UTC().Add(-s.retention)}

	n, err := s.archiver.ArchiveJournal(ctx, report.Before)
	if err != nil {
		return report, fmt.Errorf("archive_service: journal: %w", err)
	}
	report.Journal = n

	n, err = s.archiver.ArchiveAudit(ctx, report.Before)
	if err != nil {
		return report, fmt.Errorf("archive_service: audit: %w", err)
	}
	report.Audit = n

	snap := s.source.Snapshot()
	path, err := s.archiver.Snapshot(ctx, snap)
	if err != nil {
		return report, fmt.Errorf("archive_service: snapshot: %w", err)
	}
	report.SnapshotPath = path
	report.Version = snap.Version

	if s.metrics != nil {
		s.metrics.ArchivedTotal.WithLabelValues("journal").Add(float64(report.Journal))
		s.metrics.ArchivedTotal.WithLabelValues("audit").Add(float64(report.Audit))
		s.metrics.ArchivedTotal.WithLabelValues("snapshot").Inc()
	}
	s.logger.InfoContext(ctx, "archive_service: pass complete",
		slog.Int64("journal", report.Journal),
		slog.Int64("audit", report.Audit),
		slog.String("snapshot", report.SnapshotPath),
		slog.Uint64("version", report.Version),
	)
	return report, nil
}

// List returns archived objects under prefix.
func (s *ArchiveService) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	return s.archiver.List(ctx, prefix)
}

// Run calls RunOnce every interval until ctx is cancelled.
func (s *ArchiveService) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.WarnContext(ctx, "archive_service: pass failed", slog.String("error", err.Error()))
			}
		}
	}
}
