package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/skinarb/internal/domain"
	"github.com/alanyoungcy/skinarb/internal/notify"
)

// startScheduler registers the archive and daily report jobs on a UTC cron
// and stops it when ctx is cancelled. Jobs whose collaborators are not
// wired are skipped.
func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	c := cron.New(cron.WithLocation(time.UTC))
	jobs := 0

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		if _, err := c.AddFunc(a.cfg.Archive.Cron, func() {
			if err := a.runArchive(ctx, deps.Archiver, deps.Clock.Now()); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}); err != nil {
			a.logger.ErrorContext(ctx, "archive job not scheduled",
				slog.String("cron", a.cfg.Archive.Cron),
				slog.String("error", err.Error()),
			)
		} else {
			jobs++
		}
	}

	if deps.Engine != nil && a.cfg.Notify.DailyStatsCron != "" && deps.Notifier.Enabled() {
		if _, err := c.AddFunc(a.cfg.Notify.DailyStatsCron, func() {
			a.sendDailyReport(ctx, deps)
		}); err != nil {
			a.logger.ErrorContext(ctx, "daily report not scheduled",
				slog.String("cron", a.cfg.Notify.DailyStatsCron),
				slog.String("error", err.Error()),
			)
		} else {
			jobs++
		}
	}

	if jobs == 0 {
		return
	}

	c.Start()
	a.logger.InfoContext(ctx, "scheduler started", slog.Int("jobs", jobs))

	g.Go(func() error {
		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	})
}

// runArchive moves deal results and audit entries older than the retention
// window to cold storage.
func (a *App) runArchive(ctx context.Context, archiver domain.Archiver, now time.Time) error {
	cutoff := now.UTC().Add(-time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	deals, err := archiver.ArchiveDeals(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving deals before %v: %w", cutoff, err)
	}
	audit, err := archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving audit before %v: %w", cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("deals_archived", deals),
		slog.Int64("audit_archived", audit),
	)
	return nil
}

// sendDailyReport sends the statistics report and, when the markets answer,
// the balance report.
func (a *App) sendDailyReport(ctx context.Context, deps *Dependencies) {
	stats := deps.Engine.Stats()
	title, msg := notify.DailyStats(stats, deps.Clock.Now())
	if err := deps.Notifier.Notify(ctx, notify.EventDailyStats, title, msg); err != nil {
		a.logger.WarnContext(ctx, "daily stats not delivered", slog.String("error", err.Error()))
	}

	balances, err := deps.Engine.Balances(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "balances incomplete", slog.String("error", err.Error()))
	}
	title, msg = notify.Balances(usdBalances(balances), stats)
	if err := deps.Notifier.Notify(ctx, notify.EventDailyStats, title, msg); err != nil {
		a.logger.WarnContext(ctx, "balance report not delivered", slog.String("error", err.Error()))
	}
}

func usdBalances(in map[string]domain.Balance) map[string]float64 {
	out := make(map[string]float64, len(in))
	for name, b := range in {
		out[name] = b.USD
	}
	return out
}
