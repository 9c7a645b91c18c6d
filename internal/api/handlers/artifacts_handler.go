package handlers

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sheet-agent/backend/pkg/logger"
)

// ArtifactsHandler lists chart files produced by executed analysis code.
type ArtifactsHandler struct {
	outputDir string
}

func NewArtifactsHandler(outputDir string) *ArtifactsHandler {
	return &ArtifactsHandler{outputDir: outputDir}
}

type artifactInfo struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *ArtifactsHandler) List(c *fiber.Ctx) error {
	entries, err := os.ReadDir(h.outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return c.JSON(fiber.Map{"artifacts": []artifactInfo{}})
		}
		logger.Error("Failed to read output directory", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list artifacts",
		})
	}

	artifacts := make([]artifactInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".html") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, artifactInfo{
			Name:      entry.Name(),
			URL:       "/output/" + entry.Name(),
			Title:     h.chartTitle(entry.Name()),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
	})

	return c.JSON(fiber.Map{"artifacts": artifacts})
}

func (h *ArtifactsHandler) chartTitle(name string) string {
	f, err := os.Open(filepath.Join(h.outputDir, name))
	if err != nil {
		return ""
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
