package knowledge

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sheet-agent/backend/internal/sheets"
	"github.com/sheet-agent/backend/internal/storage/models"
	"github.com/sheet-agent/backend/pkg/logger"
)

// Store is the durable home of file summaries.
type Store interface {
	GetSummary(fileName string) (*models.FileSummary, error)
	UpsertSummary(s *models.FileSummary) error
	ListSummaries() ([]models.FileSummary, error)
	DeleteSummary(fileName string) error
}

// Summarizer produces a short free-text description of a workbook from
// a rendered sample of its content.
type Summarizer interface {
	SummarizeWorkbook(ctx context.Context, fileName, sample string) (string, error)
}

// Base is the knowledge base: per-file summaries plus a keyword index
// used to narrow candidate files for a question.
type Base struct {
	store        Store
	summarizer   Summarizer
	index        *keywordIndex
	now          func() time.Time
	readWorkbook func(path string) (*sheets.RawWorkbook, error)
}

func NewBase(store Store, summarizer Summarizer) *Base {
	return &Base{
		store:        store,
		summarizer:   summarizer,
		index:        newKeywordIndex(),
		now:          time.Now,
		readWorkbook: sheets.ReadWorkbook,
	}
}

// Load rebuilds the in-memory index from the stored summaries. Called
// once at startup before the first search.
func (b *Base) Load() error {
	summaries, err := b.store.ListSummaries()
	if err != nil {
		return err
	}
	b.index.rebuild(summaries)
	logger.Info("Knowledge base loaded", zap.Int("summaries", len(summaries)))
	return nil
}

// EnsureUpToDate refreshes summaries for every file whose fingerprint
// differs from the stored one. Files with a matching fingerprint are
// never re-summarized. A summarization failure skips that file and does
// not block the rest.
func (b *Base) EnsureUpToDate(ctx context.Context, files []models.SpreadsheetFile) error {
	changed := false

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		existing, err := b.store.GetSummary(file.Name)
		if err != nil {
			logger.Warn("Failed to read stored summary", zap.String("file", file.Name), zap.Error(err))
			continue
		}
		if existing != nil && existing.Fingerprint == file.Fingerprint {
			continue
		}

		summary, err := b.summarize(ctx, file)
		if err != nil {
			logger.Warn("Failed to summarize workbook, skipping",
				zap.String("file", file.Name),
				zap.Error(err),
			)
			continue
		}

		if err := b.store.UpsertSummary(summary); err != nil {
			logger.Warn("Failed to persist summary", zap.String("file", file.Name), zap.Error(err))
			continue
		}
		changed = true

		logger.Info("Workbook summarized",
			zap.String("file", file.Name),
			zap.Int("keywords", len(summary.Keywords)),
		)
	}

	if changed {
		summaries, err := b.store.ListSummaries()
		if err != nil {
			return err
		}
		b.index.rebuild(summaries)
	}

	return nil
}

func (b *Base) summarize(ctx context.Context, file models.SpreadsheetFile) (*models.FileSummary, error) {
	wb, err := b.readWorkbook(file.Path)
	if err != nil {
		return nil, err
	}

	text, err := b.summarizer.SummarizeWorkbook(ctx, file.Name, wb.Sample(5))
	if err != nil {
		return nil, err
	}

	columnCount, rowCount := 0, 0
	if len(wb.Sheets) > 0 && len(wb.Sheets[0].Cells) > 0 {
		columnCount = len(wb.Sheets[0].Cells[0])
		rowCount = len(wb.Sheets[0].Cells)
	}

	return &models.FileSummary{
		FileName:    file.Name,
		Fingerprint: file.Fingerprint,
		Summary:     text,
		Keywords:    Tokenize(text + " " + file.Name),
		SheetNames:  wb.SheetNames(),
		ColumnCount: columnCount,
		RowCount:    rowCount,
		UpdatedAt:   b.now(),
	}, nil
}

// Search ranks stored summaries by keyword overlap with the query and
// returns at most limit of them. Entries with zero overlap never appear.
// Ties rank most-recently-updated first, then lexicographic by file name.
func (b *Base) Search(query string, limit int) []models.FileSummary {
	queryKeywords := Tokenize(query)
	if len(queryKeywords) == 0 {
		return nil
	}

	scores, matched := b.index.score(queryKeywords)
	if len(scores) == 0 {
		return nil
	}

	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool {
		si, sj := scores[names[i]], scores[names[j]]
		if si != sj {
			return si > sj
		}
		ui, uj := matched[names[i]].UpdatedAt, matched[names[j]].UpdatedAt
		if !ui.Equal(uj) {
			return ui.After(uj)
		}
		return names[i] < names[j]
	})

	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	results := make([]models.FileSummary, 0, len(names))
	for _, name := range names {
		results = append(results, matched[name])
	}
	return results
}
