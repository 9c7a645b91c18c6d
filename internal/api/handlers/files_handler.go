package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sheet-agent/backend/internal/knowledge"
	"github.com/sheet-agent/backend/internal/sheets"
	"github.com/sheet-agent/backend/pkg/logger"
)

type FilesHandler struct {
	scanner *sheets.Scanner
	store   knowledge.Store
}

func NewFilesHandler(scanner *sheets.Scanner, store knowledge.Store) *FilesHandler {
	return &FilesHandler{scanner: scanner, store: store}
}

// ListFiles enumerates the spreadsheet directory with each file's
// summary and whether that summary is still fresh.
func (h *FilesHandler) ListFiles(c *fiber.Ctx) error {
	files, err := h.scanner.ListFiles()
	if err != nil {
		logger.Error("Failed to list files", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list files",
		})
	}

	type fileInfo struct {
		Name      string   `json:"name"`
		Size      int64    `json:"size"`
		Summary   string   `json:"summary,omitempty"`
		Sheets    []string `json:"sheets,omitempty"`
		Fresh     bool     `json:"summary_fresh"`
		UpdatedAt int64    `json:"summary_updated_at,omitempty"`
	}

	infos := make([]fileInfo, 0, len(files))
	for _, f := range files {
		info := fileInfo{Name: f.Name, Size: f.Size}

		summary, err := h.store.GetSummary(f.Name)
		if err != nil {
			logger.Warn("Failed to read summary", zap.String("file", f.Name), zap.Error(err))
		} else if summary != nil {
			info.Summary = summary.Summary
			info.Sheets = summary.SheetNames
			info.Fresh = summary.Fingerprint == f.Fingerprint
			info.UpdatedAt = summary.UpdatedAt.Unix()
		}

		infos = append(infos, info)
	}

	return c.JSON(fiber.Map{"files": infos})
}
