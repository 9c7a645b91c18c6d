package selector

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sheet-agent/backend/internal/storage/models"
	"github.com/sheet-agent/backend/pkg/logger"
)

// ErrNoFile means no workbook in the corpus fits the question.
var ErrNoFile = errors.New("no suitable file for question")

const candidateLimit = 5

// Searcher is the knowledge-base side of selection: cheap keyword
// narrowing to a short candidate list.
type Searcher interface {
	Search(query string, limit int) []models.FileSummary
}

// Chooser is the opaque language collaborator that picks the single
// best candidate. It returns the chosen file name, or "" for none.
type Chooser interface {
	ChooseFile(ctx context.Context, question string, candidates []models.FileSummary) (string, error)
}

// Selector narrows candidates with the keyword index first so the
// expensive language call always sees at most candidateLimit summaries,
// whatever the corpus size.
type Selector struct {
	searcher Searcher
	chooser  Chooser
}

func New(searcher Searcher, chooser Chooser) *Selector {
	return &Selector{searcher: searcher, chooser: chooser}
}

// Select returns the name of the workbook best matching the question.
// Zero candidates is ErrNoFile; a single candidate short-circuits the
// language call.
func (s *Selector) Select(ctx context.Context, question string) (string, error) {
	candidates := s.searcher.Search(question, candidateLimit)

	switch len(candidates) {
	case 0:
		return "", ErrNoFile
	case 1:
		logger.Info("Single candidate, skipping selection call",
			zap.String("file", candidates[0].FileName),
		)
		return candidates[0].FileName, nil
	}

	chosen, err := s.chooser.ChooseFile(ctx, question, candidates)
	if err != nil {
		return "", fmt.Errorf("selection call failed: %w", err)
	}
	if chosen == "" {
		return "", ErrNoFile
	}

	for _, c := range candidates {
		if c.FileName == chosen {
			logger.Info("File selected",
				zap.String("file", chosen),
				zap.Int("candidates", len(candidates)),
			)
			return chosen, nil
		}
	}

	// The collaborator named a file outside the candidate list; treat
	// it as no match rather than trusting an unverifiable answer.
	logger.Warn("Selection returned unknown file", zap.String("file", chosen))
	return "", ErrNoFile
}
