package recon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sheet-agent/backend/internal/metrics"
	"github.com/sheet-agent/backend/internal/sheets"
	"github.com/sheet-agent/backend/internal/storage/models"
	"github.com/sheet-agent/backend/pkg/logger"
)

// TableStore persists reconstructed tables across restarts.
type TableStore interface {
	GetTable(fileName string) (*models.ReconstructedTable, error)
	UpsertTable(t *models.ReconstructedTable) error
	ListTables() ([]models.ReconstructedTable, error)
	DeleteTable(fileName string) error
}

// Cache memoizes reconstructed tables keyed by (file name, fingerprint).
// Tables are immutable once built, so readers hold plain pointers and
// pruning can drop map entries without touching an in-flight read.
type Cache struct {
	store    TableStore
	analyzer Analyzer

	mu      sync.RWMutex
	entries map[string]*models.ReconstructedTable

	readWorkbook func(path string) (*sheets.RawWorkbook, error)
}

func NewCache(store TableStore, analyzer Analyzer) *Cache {
	return &Cache{
		store:        store,
		analyzer:     analyzer,
		entries:      make(map[string]*models.ReconstructedTable),
		readWorkbook: sheets.ReadWorkbook,
	}
}

// GetTable returns the clean table for a workbook, reconstructing it at
// most once per distinct fingerprint. The source file is never written.
func (c *Cache) GetTable(ctx context.Context, file models.SpreadsheetFile) (*models.ReconstructedTable, error) {
	c.mu.RLock()
	cached := c.entries[file.Name]
	c.mu.RUnlock()

	if cached != nil && cached.Fingerprint == file.Fingerprint {
		metrics.CacheHits.WithLabelValues("reconstruction").Inc()
		return cached, nil
	}

	stored, err := c.store.GetTable(file.Name)
	if err != nil {
		logger.Warn("Failed to read stored table", zap.String("file", file.Name), zap.Error(err))
	}
	if stored != nil && stored.Fingerprint == file.Fingerprint {
		c.mu.Lock()
		c.entries[file.Name] = stored
		c.mu.Unlock()
		metrics.CacheHits.WithLabelValues("reconstruction").Inc()
		return stored, nil
	}

	metrics.CacheMisses.WithLabelValues("reconstruction").Inc()

	table, err := c.reconstruct(ctx, file)
	if err != nil {
		return nil, err
	}

	if err := c.store.UpsertTable(table); err != nil {
		logger.Warn("Failed to persist reconstructed table",
			zap.String("file", file.Name),
			zap.Error(err),
		)
	}

	c.mu.Lock()
	c.entries[file.Name] = table
	c.mu.Unlock()

	logger.Info("Workbook reconstructed",
		zap.String("file", file.Name),
		zap.String("sheet", table.SheetName),
		zap.Int("columns", len(table.Columns)),
		zap.Int("rows", len(table.Rows)),
	)

	return table, nil
}

func (c *Cache) reconstruct(ctx context.Context, file models.SpreadsheetFile) (*models.ReconstructedTable, error) {
	wb, err := c.readWorkbook(file.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook: %w", err)
	}

	structures, err := c.analyzer.AnalyzeStructure(ctx, wb.Sample(10), mergeInfoJSON(wb))
	if err != nil {
		return nil, fmt.Errorf("structure analysis failed: %w", err)
	}

	table, err := buildTable(file, wb, structures)
	if err != nil {
		return nil, err
	}

	return table, nil
}

// PruneStale removes cached tables whose backing file is gone, whose
// fingerprint no longer matches, or which are older than maxAge.
// Returns the number of entries removed.
func (c *Cache) PruneStale(scanner *sheets.Scanner, maxAge time.Duration) int {
	stored, err := c.store.ListTables()
	if err != nil {
		logger.Warn("Failed to list stored tables for pruning", zap.Error(err))
		return 0
	}

	removed := 0
	now := time.Now()

	for _, t := range stored {
		stale := false

		current, err := scanner.Stat(t.FileName)
		switch {
		case err != nil:
			stale = true
		case current.Fingerprint != t.Fingerprint:
			stale = true
		case maxAge > 0 && now.Sub(t.CreatedAt) > maxAge:
			stale = true
		}

		if !stale {
			continue
		}

		if err := c.store.DeleteTable(t.FileName); err != nil {
			logger.Warn("Failed to delete stale table", zap.String("file", t.FileName), zap.Error(err))
			continue
		}

		c.mu.Lock()
		if mem, ok := c.entries[t.FileName]; ok && mem.Fingerprint == t.Fingerprint {
			delete(c.entries, t.FileName)
		}
		c.mu.Unlock()

		removed++
		metrics.TablesPruned.Inc()
		logger.Info("Stale reconstructed table pruned", zap.String("file", t.FileName))
	}

	return removed
}
