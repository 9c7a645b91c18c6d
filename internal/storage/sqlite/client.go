package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/sheet-agent/backend/internal/storage/models"
	"github.com/sheet-agent/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS file_summaries (
		file_name TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		summary TEXT NOT NULL,
		keywords TEXT,
		sheet_names TEXT,
		column_count INTEGER DEFAULT 0,
		row_count INTEGER DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_summaries_updated ON file_summaries(updated_at);

	CREATE TABLE IF NOT EXISTS reconstructed_tables (
		file_name TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		sheet_name TEXT,
		columns TEXT NOT NULL,
		rows TEXT NOT NULL,
		provenance TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tables_created ON reconstructed_tables(created_at);

	CREATE TABLE IF NOT EXISTS analysis_history (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		file_name TEXT,
		code TEXT,
		output TEXT,
		error_text TEXT,
		success INTEGER DEFAULT 0,
		columns_used TEXT,
		graph_files TEXT,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_created ON analysis_history(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) GetSummary(fileName string) (*models.FileSummary, error) {
	query := `SELECT file_name, fingerprint, summary, keywords, sheet_names, column_count, row_count, updated_at
		FROM file_summaries WHERE file_name = ?`

	var s models.FileSummary
	var keywords, sheetNames string
	var updatedAt int64

	err := c.db.QueryRow(query, fileName).Scan(
		&s.FileName,
		&s.Fingerprint,
		&s.Summary,
		&keywords,
		&sheetNames,
		&s.ColumnCount,
		&s.RowCount,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}

	if err := unmarshalStrings(keywords, &s.Keywords); err != nil {
		return nil, err
	}
	if err := unmarshalStrings(sheetNames, &s.SheetNames); err != nil {
		return nil, err
	}
	s.UpdatedAt = time.Unix(updatedAt, 0)

	return &s, nil
}

func (c *Client) UpsertSummary(s *models.FileSummary) error {
	keywords, err := json.Marshal(s.Keywords)
	if err != nil {
		return fmt.Errorf("failed to marshal keywords: %w", err)
	}
	sheetNames, err := json.Marshal(s.SheetNames)
	if err != nil {
		return fmt.Errorf("failed to marshal sheet names: %w", err)
	}

	query := `
		INSERT INTO file_summaries (file_name, fingerprint, summary, keywords, sheet_names, column_count, row_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_name) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			summary = excluded.summary,
			keywords = excluded.keywords,
			sheet_names = excluded.sheet_names,
			column_count = excluded.column_count,
			row_count = excluded.row_count,
			updated_at = excluded.updated_at
	`

	_, err = c.db.Exec(
		query,
		s.FileName,
		s.Fingerprint,
		s.Summary,
		string(keywords),
		string(sheetNames),
		s.ColumnCount,
		s.RowCount,
		s.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert summary: %w", err)
	}

	logger.Debug("Summary upserted", zap.String("file", s.FileName))
	return nil
}

func (c *Client) ListSummaries() ([]models.FileSummary, error) {
	query := `SELECT file_name, fingerprint, summary, keywords, sheet_names, column_count, row_count, updated_at
		FROM file_summaries ORDER BY file_name`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer rows.Close()

	var summaries []models.FileSummary
	for rows.Next() {
		var s models.FileSummary
		var keywords, sheetNames string
		var updatedAt int64

		err := rows.Scan(
			&s.FileName,
			&s.Fingerprint,
			&s.Summary,
			&keywords,
			&sheetNames,
			&s.ColumnCount,
			&s.RowCount,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}

		if err := unmarshalStrings(keywords, &s.Keywords); err != nil {
			return nil, err
		}
		if err := unmarshalStrings(sheetNames, &s.SheetNames); err != nil {
			return nil, err
		}
		s.UpdatedAt = time.Unix(updatedAt, 0)

		summaries = append(summaries, s)
	}

	return summaries, rows.Err()
}

func (c *Client) DeleteSummary(fileName string) error {
	_, err := c.db.Exec(`DELETE FROM file_summaries WHERE file_name = ?`, fileName)
	if err != nil {
		return fmt.Errorf("failed to delete summary: %w", err)
	}
	return nil
}

func (c *Client) GetTable(fileName string) (*models.ReconstructedTable, error) {
	query := `SELECT file_name, fingerprint, sheet_name, columns, rows, provenance, created_at
		FROM reconstructed_tables WHERE file_name = ?`

	var t models.ReconstructedTable
	var columns, rowData, provenance string
	var createdAt int64

	err := c.db.QueryRow(query, fileName).Scan(
		&t.FileName,
		&t.Fingerprint,
		&t.SheetName,
		&columns,
		&rowData,
		&provenance,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reconstructed table: %w", err)
	}

	if err := unmarshalStrings(columns, &t.Columns); err != nil {
		return nil, err
	}
	if rowData != "" {
		if err := json.Unmarshal([]byte(rowData), &t.Rows); err != nil {
			return nil, fmt.Errorf("failed to unmarshal rows: %w", err)
		}
	}
	if provenance != "" {
		if err := json.Unmarshal([]byte(provenance), &t.Provenance); err != nil {
			return nil, fmt.Errorf("failed to unmarshal provenance: %w", err)
		}
	}
	t.CreatedAt = time.Unix(createdAt, 0)

	return &t, nil
}

func (c *Client) UpsertTable(t *models.ReconstructedTable) error {
	columns, err := json.Marshal(t.Columns)
	if err != nil {
		return fmt.Errorf("failed to marshal columns: %w", err)
	}
	rowData, err := json.Marshal(t.Rows)
	if err != nil {
		return fmt.Errorf("failed to marshal rows: %w", err)
	}
	provenance, err := json.Marshal(t.Provenance)
	if err != nil {
		return fmt.Errorf("failed to marshal provenance: %w", err)
	}

	query := `
		INSERT INTO reconstructed_tables (file_name, fingerprint, sheet_name, columns, rows, provenance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_name) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			sheet_name = excluded.sheet_name,
			columns = excluded.columns,
			rows = excluded.rows,
			provenance = excluded.provenance,
			created_at = excluded.created_at
	`

	_, err = c.db.Exec(
		query,
		t.FileName,
		t.Fingerprint,
		t.SheetName,
		string(columns),
		string(rowData),
		string(provenance),
		t.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert reconstructed table: %w", err)
	}

	logger.Debug("Reconstructed table upserted",
		zap.String("file", t.FileName),
		zap.String("fingerprint", t.Fingerprint),
	)
	return nil
}

func (c *Client) ListTables() ([]models.ReconstructedTable, error) {
	query := `SELECT file_name, fingerprint, sheet_name, created_at FROM reconstructed_tables`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconstructed tables: %w", err)
	}
	defer rows.Close()

	var tables []models.ReconstructedTable
	for rows.Next() {
		var t models.ReconstructedTable
		var createdAt int64
		if err := rows.Scan(&t.FileName, &t.Fingerprint, &t.SheetName, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan reconstructed table: %w", err)
		}
		t.CreatedAt = time.Unix(createdAt, 0)
		tables = append(tables, t)
	}

	return tables, rows.Err()
}

func (c *Client) DeleteTable(fileName string) error {
	_, err := c.db.Exec(`DELETE FROM reconstructed_tables WHERE file_name = ?`, fileName)
	if err != nil {
		return fmt.Errorf("failed to delete reconstructed table: %w", err)
	}
	return nil
}

func (c *Client) InsertAnalysisRecord(r *models.AnalysisRecord) error {
	columnsUsed, err := json.Marshal(r.ColumnsUsed)
	if err != nil {
		return fmt.Errorf("failed to marshal columns used: %w", err)
	}
	graphFiles, err := json.Marshal(r.GraphFiles)
	if err != nil {
		return fmt.Errorf("failed to marshal graph files: %w", err)
	}

	success := 0
	if r.Success {
		success = 1
	}

	query := `
		INSERT INTO analysis_history (id, question, file_name, code, output, error_text, success,
			columns_used, graph_files, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = c.db.Exec(
		query,
		r.ID,
		r.Question,
		r.FileName,
		r.Code,
		r.Output,
		r.ErrorText,
		success,
		string(columnsUsed),
		string(graphFiles),
		r.LatencyMS,
		r.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis record: %w", err)
	}

	logger.Info("Analysis recorded",
		zap.String("analysis_id", r.ID),
		zap.String("file", r.FileName),
		zap.Bool("success", r.Success),
	)
	return nil
}

func (c *Client) GetAnalysisHistory(limit int) ([]models.AnalysisRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, question, file_name, code, output, error_text, success, columns_used, graph_files, latency_ms, created_at
		FROM analysis_history
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis history: %w", err)
	}
	defer rows.Close()

	var records []models.AnalysisRecord
	for rows.Next() {
		var r models.AnalysisRecord
		var columnsUsed, graphFiles string
		var success int
		var createdAt int64

		err := rows.Scan(
			&r.ID,
			&r.Question,
			&r.FileName,
			&r.Code,
			&r.Output,
			&r.ErrorText,
			&success,
			&columnsUsed,
			&graphFiles,
			&r.LatencyMS,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis record: %w", err)
		}

		if err := unmarshalStrings(columnsUsed, &r.ColumnsUsed); err != nil {
			return nil, err
		}
		if err := unmarshalStrings(graphFiles, &r.GraphFiles); err != nil {
			return nil, err
		}
		r.Success = success == 1
		r.CreatedAt = time.Unix(createdAt, 0)

		records = append(records, r)
	}

	return records, rows.Err()
}

func unmarshalStrings(data string, out *[]string) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("failed to unmarshal string list: %w", err)
	}
	return nil
}
