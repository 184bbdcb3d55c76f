package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/defter-erp/defter/internal/invoice"
	"github.com/defter-erp/defter/internal/money"
	"github.com/defter-erp/defter/internal/observability"
	"github.com/defter-erp/defter/internal/schedule"
)

const dedupTTL = 48 * time.Hour

// InvoiceScanner lists open invoices for the sweep.
type InvoiceScanner interface {
	ListInvoices(ctx context.Context, req invoice.ListRequest) ([]invoice.Invoice, error)
}

// ScheduleScanner lists unpaid schedule entries for the sweep.
type ScheduleScanner interface {
	ListEntries(ctx context.Context, req schedule.ListRequest) ([]schedule.Entry, error)
}

// OverdueNotice describes one obligation found past due.
type OverdueNotice struct {
	Kind        string
	ID          int64
	Reference   string
	DueDate     time.Time
	Outstanding money.Money
}

// Notifier delivers overdue notices. The sweep only detects; delivery policy
// lives behind this interface.
type Notifier interface {
	NotifyOverdue(ctx context.Context, n OverdueNotice) error
}

// LogNotifier writes notices to the log with locale formatted amounts.
type LogNotifier struct {
	Logger  *slog.Logger
	printer *message.Printer
}

// NewLogNotifier builds a notifier for the given BCP 47 locale tag. An
// unparseable tag falls back to Turkish.
func NewLogNotifier(logger *slog.Logger, locale string) *LogNotifier {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Turkish
	}
	return &LogNotifier{Logger: logger, printer: message.NewPrinter(tag)}
}

// NotifyOverdue logs the notice.
func (n *LogNotifier) NotifyOverdue(ctx context.Context, notice OverdueNotice) error {
	amount, _ := notice.Outstanding.Amount().Float64()
	n.Logger.Warn("obligation overdue",
		slog.String("kind", notice.Kind),
		slog.Int64("id", notice.ID),
		slog.String("reference", notice.Reference),
		slog.Time("due_date", notice.DueDate),
		slog.String("outstanding", n.printer.Sprintf("%v %s",
			number.Decimal(amount, number.Scale(int(money.MinorUnits(notice.Outstanding.Currency())))),
			notice.Outstanding.Currency())),
	)
	return nil
}

// OverdueSweepJob scans invoices and schedule entries past due and emits one
// notice per obligation per dedup window. Overdue stays a derived predicate;
// the sweep never writes status back.
type OverdueSweepJob struct {
	Invoices  InvoiceScanner
	Schedules ScheduleScanner
	Redis     *redis.Client
	Notifier  Notifier
	Metrics   *observability.Metrics
	Logger    *slog.Logger
	clock     func() time.Time
}

// NewOverdueSweepJob initialises the sweep handler.
func NewOverdueSweepJob(invoices InvoiceScanner, schedules ScheduleScanner, redisClient *redis.Client, notifier Notifier, metrics *observability.Metrics, logger *slog.Logger) *OverdueSweepJob {
	return &OverdueSweepJob{
		Invoices:  invoices,
		Schedules: schedules,
		Redis:     redisClient,
		Notifier:  notifier,
		Metrics:   metrics,
		Logger:    logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithClock overrides the time source.
func (j *OverdueSweepJob) WithClock(now func() time.Time) *OverdueSweepJob {
	j.clock = now
	return j
}

// Handle executes one sweep run.
func (j *OverdueSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("overdue sweep: handler not configured")
	}
	var payload OverdueSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Limit <= 0 {
		payload.Limit = 500
	}

	now := j.clock()
	j.Logger.Info("starting overdue sweep", slog.Time("as_of", now), slog.Int("limit", payload.Limit))

	var invoices []invoice.Invoice
	var entries []schedule.Entry
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		invoices, err = j.Invoices.ListInvoices(gctx, invoice.ListRequest{
			Status: invoice.StatusSent,
			Limit:  payload.Limit,
		})
		return err
	})
	g.Go(func() error {
		var err error
		entries, err = j.Schedules.ListEntries(gctx, schedule.ListRequest{
			UnpaidOnly: true,
			DueBefore:  now,
			Limit:      payload.Limit,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		j.Logger.Error("overdue sweep scan failed", slog.Any("error", err))
		return err
	}

	notified := 0
	for i := range invoices {
		inv := &invoices[i]
		if !invoice.IsOverdue(inv, now) {
			continue
		}
		ok, err := j.notify(ctx, now, OverdueNotice{
			Kind:        "invoice",
			ID:          inv.ID,
			Reference:   inv.Number,
			DueDate:     inv.DueDate,
			Outstanding: inv.Outstanding(),
		})
		if err != nil {
			return err
		}
		if ok {
			notified++
			j.Metrics.RecordOverdue("invoice", 1)
		}
	}
	for i := range entries {
		e := &entries[i]
		ok, err := j.notify(ctx, now, OverdueNotice{
			Kind:        "schedule_entry",
			ID:          e.ID,
			Reference:   e.Description,
			DueDate:     e.DueDate,
			Outstanding: e.Outstanding(),
		})
		if err != nil {
			return err
		}
		if ok {
			notified++
			j.Metrics.RecordOverdue("schedule_entry", 1)
		}
	}

	j.Logger.Info("overdue sweep finished",
		slog.Int("invoices_scanned", len(invoices)),
		slog.Int("entries_scanned", len(entries)),
		slog.Int("notified", notified))
	return nil
}

// notify emits one notice unless the dedup key for this obligation is still
// live. Returns whether a notice went out.
func (j *OverdueSweepJob) notify(ctx context.Context, now time.Time, notice OverdueNotice) (bool, error) {
	key := fmt.Sprintf("overdue:notify:%s:%d:%s", notice.Kind, notice.ID, now.Format("2006-01-02"))
	if j.Redis != nil {
		claimed, err := j.Redis.SetNX(ctx, key, "1", dedupTTL).Result()
		if err != nil {
			return false, fmt.Errorf("overdue sweep: dedup %s: %w", key, err)
		}
		if !claimed {
			return false, nil
		}
	}
	if err := j.Notifier.NotifyOverdue(ctx, notice); err != nil {
		return false, err
	}
	return true, nil
}
