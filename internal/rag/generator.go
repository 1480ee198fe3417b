package rag

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/auralis/auralis/internal/db"
)

const documentSource = "spotify"

// Retention windows for the rolling reports. Monthly and global documents
// are never swept; stale copies of those are harmless and the existence
// check keeps them from piling up.
const (
	dailyRetention  = 7 * 24 * time.Hour
	weeklyRetention = 4 * 7 * 24 * time.Hour
)

// HistoryReader loads a user's full joined history.
type HistoryReader interface {
	AllForUser(ctx context.Context, userID uuid.UUID) ([]db.PlayRecord, error)
}

// DocumentStore persists and prunes generated documents.
type DocumentStore interface {
	Exists(ctx context.Context, userID uuid.UUID, summaryType, content string) (bool, error)
	Insert(ctx context.Context, doc *db.Document) error
	DeleteDailyBefore(ctx context.Context, userID uuid.UUID, date string) (int64, error)
	DeleteWeeklyBefore(ctx context.Context, userID uuid.UUID, weekStart string) (int64, error)
}

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator rebuilds a user's document set from their listening history.
// Generation is idempotent: a document whose content already exists for the
// (user, summary type) pair is skipped, so unchanged periods cost nothing.
type Generator struct {
	history  HistoryReader
	docs     DocumentStore
	embedder Embedder
	log      zerolog.Logger
	now      func() time.Time
	zone     *time.Location
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) {
		g.now = now
	}
}

// WithZone sets the timezone used for calendar bucketing.
func WithZone(zone *time.Location) GeneratorOption {
	return func(g *Generator) {
		g.zone = zone
	}
}

// NewGenerator creates a document generator.
func NewGenerator(history HistoryReader, docs DocumentStore, embedder Embedder, log zerolog.Logger, opts ...GeneratorOption) *Generator {
	g := &Generator{
		history:  history,
		docs:     docs,
		embedder: embedder,
		log:      log.With().Str("component", "rag_generator").Logger(),
		now:      time.Now,
		zone:     time.UTC,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateForUser regenerates the user's full document set: stale rolling
// reports are pruned, then monthly, daily, weekly and global documents are
// produced from the current history. A user with no history is a no-op.
func (g *Generator) GenerateForUser(ctx context.Context, userID uuid.UUID) error {
	records, err := g.history.AllForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	now := g.now()

	if err := g.cleanup(ctx, userID, now); err != nil {
		return err
	}
	if err := g.generateMonthly(ctx, userID, records); err != nil {
		return err
	}
	if err := g.generateDaily(ctx, userID, records, now); err != nil {
		return err
	}
	if err := g.generateWeekly(ctx, userID, records, now); err != nil {
		return err
	}
	if err := g.generateGlobal(ctx, userID, records); err != nil {
		return err
	}

	g.log.Info().Stringer("user_id", userID).Int("plays", len(records)).Msg("documents regenerated")
	return nil
}

// cleanup applies the retention rules to the rolling reports.
func (g *Generator) cleanup(ctx context.Context, userID uuid.UUID, now time.Time) error {
	dailyCutoff := now.In(g.zone).Add(-dailyRetention).Format("2006-01-02")
	deletedDaily, err := g.docs.DeleteDailyBefore(ctx, userID, dailyCutoff)
	if err != nil {
		return fmt.Errorf("pruning daily documents: %w", err)
	}

	weeklyCutoff := now.In(g.zone).Add(-weeklyRetention).Format("2006-01-02")
	deletedWeekly, err := g.docs.DeleteWeeklyBefore(ctx, userID, weeklyCutoff)
	if err != nil {
		return fmt.Errorf("pruning weekly documents: %w", err)
	}

	if deletedDaily > 0 || deletedWeekly > 0 {
		g.log.Debug().
			Stringer("user_id", userID).
			Int64("daily", deletedDaily).
			Int64("weekly", deletedWeekly).
			Msg("pruned stale documents")
	}
	return nil
}

// generateMonthly writes a prose and a structured document per calendar
// month present in the history. Both share the same metadata.
func (g *Generator) generateMonthly(ctx context.Context, userID uuid.UUID, records []db.PlayRecord) error {
	byMonth := make(map[time.Time][]db.PlayRecord)
	for _, rec := range records {
		local := rec.PlayedAt.In(g.zone)
		month := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, g.zone)
		byMonth[month] = append(byMonth[month], rec)
	}

	months := make([]time.Time, 0, len(byMonth))
	for month := range byMonth {
		months = append(months, month)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	for _, month := range months {
		monthRecords := byMonth[month]
		metadata := monthlyMetadata(month, monthRecords)

		summary := monthlySummary(month, monthRecords)
		if err := g.insert(ctx, userID, db.SummaryMonthly, summary, metadata); err != nil {
			return err
		}

		structured := structuredMonthlySummary(month, monthRecords)
		if err := g.insert(ctx, userID, db.SummaryMonthlyStructured, structured, metadata); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) generateDaily(ctx context.Context, userID uuid.UUID, records []db.PlayRecord, now time.Time) error {
	start := now.Add(-24 * time.Hour)
	window := filterAfter(records, start)
	if len(window) == 0 {
		return nil
	}
	summary := dailySummary(window, g.zone)
	return g.insert(ctx, userID, db.SummaryDaily, summary, dailyMetadata(window, start, now, g.zone))
}

func (g *Generator) generateWeekly(ctx context.Context, userID uuid.UUID, records []db.PlayRecord, now time.Time) error {
	start := now.Add(-7 * 24 * time.Hour)
	window := filterAfter(records, start)
	if len(window) == 0 {
		return nil
	}
	summary := weeklySummary(window, g.zone)
	return g.insert(ctx, userID, db.SummaryWeekly, summary, weeklyMetadata(window, start, now, g.zone))
}

func (g *Generator) generateGlobal(ctx context.Context, userID uuid.UUID, records []db.PlayRecord) error {
	hourly := hourlySummary(records, g.zone)
	if err := g.insert(ctx, userID, db.SummaryHourlyPatterns, hourly, hourlyMetadata(records, g.zone)); err != nil {
		return err
	}

	global := globalTopTracksSummary(records)
	return g.insert(ctx, userID, db.SummaryTopTracksGlobal, global, globalMetadata(records))
}

// insert embeds and stores one document, unless identical content is already
// there.
func (g *Generator) insert(ctx context.Context, userID uuid.UUID, summaryType, content string, metadata map[string]any) error {
	exists, err := g.docs.Exists(ctx, userID, summaryType, content)
	if err != nil {
		return fmt.Errorf("checking document existence: %w", err)
	}
	if exists {
		return nil
	}

	embedding, err := g.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embedding %s document: %w", summaryType, err)
	}

	if err := g.docs.Insert(ctx, &db.Document{
		UserID:      userID,
		Source:      documentSource,
		SummaryType: summaryType,
		Content:     content,
		Embedding:   embedding,
		Metadata:    metadata,
	}); err != nil {
		return fmt.Errorf("inserting %s document: %w", summaryType, err)
	}
	return nil
}

func filterAfter(records []db.PlayRecord, cutoff time.Time) []db.PlayRecord {
	var window []db.PlayRecord
	for _, rec := range records {
		if rec.PlayedAt.After(cutoff) {
			window = append(window, rec)
		}
	}
	return window
}
