// Package importsources loads the RSS sources the ingest pipeline reads from a CSV file.
package importsources

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"reddot-watch/feedpager/internal/config"
	"reddot-watch/feedpager/internal/database"
	"reddot-watch/feedpager/internal/models"
)

var requiredColumns = []string{"url", "comments", "language", "status"}

// Result summarizes one import run. Errors holds one line per skipped row.
type Result struct {
	Rows     int
	Imported int
	Errors   []string
}

// Importer handles the source import process
type Importer struct {
	db         *database.DB
	remoteURL  string
	httpClient *http.Client
}

// NewImporter creates a new source importer. A missing CSV file is downloaded
// from config.RemoteSourcesURL.
func NewImporter(db *database.DB) *Importer {
	return &Importer{
		db:         db,
		remoteURL:  config.RemoteSourcesURL,
		httpClient: &http.Client{Timeout: config.DefaultRequestTimeout},
	}
}

// Import reads sources from csvPath, fetching the remote list first when the
// file does not exist.
func (i *Importer) Import(ctx context.Context, csvPath string) (*Result, error) {
	log.Info().Str("csv", csvPath).Msg("Starting source import")

	data, err := i.csvData(ctx, csvPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get CSV data: %w", err)
	}

	res, err := i.importCSV(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to import sources: %w", err)
	}

	log.Info().
		Int("total", res.Rows).
		Int("success", res.Imported).
		Int("errors", len(res.Errors)).
		Msg("Import summary")
	return res, nil
}

func (i *Importer) csvData(ctx context.Context, csvPath string) ([]byte, error) {
	data, err := os.ReadFile(csvPath)
	if err == nil {
		log.Info().Str("path", csvPath).Msg("Using local CSV file")
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) || i.remoteURL == "" {
		return nil, err
	}

	log.Info().Str("url", i.remoteURL).Str("path", csvPath).Msg("Local CSV file not found. Downloading from remote source")
	data, err = i.download(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to download CSV file: %w", err)
	}

	if err := os.WriteFile(csvPath, data, 0644); err != nil {
		log.Warn().Err(err).Str("path", csvPath).Msg("Could not save downloaded CSV")
	} else {
		log.Debug().Int("bytes", len(data)).Str("path", csvPath).Msg("Downloaded and saved CSV file")
	}
	return data, nil
}

func (i *Importer) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.remoteURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (i *Importer) importCSV(ctx context.Context, r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	log.Debug().Strs("header", header).Msg("CSV header read")

	idx := make(map[string]int, len(requiredColumns))
	for _, col := range requiredColumns {
		n := columnIndex(header, col)
		if n < 0 {
			return nil, fmt.Errorf("required column '%s' not found in CSV header", col)
		}
		idx[col] = n
	}

	res := &Result{}
	line := 1
	for {
		line++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Int("line", line).Msg("Error reading CSV line")
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if len(record) == 0 || (len(record) == 1 && record[0] == "") {
			continue
		}
		res.Rows++

		src := models.NewSource()
		src.URL = field(record, idx["url"]).String
		src.Comments = field(record, idx["comments"])
		src.Language = field(record, idx["language"])
		if status := field(record, idx["status"]); status.Valid {
			src.Status = status.String
		}

		if src.URL == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: empty URL", line))
			continue
		}

		logger := log.With().Int("line", line).Str("url", src.URL).Logger()
		if err := i.db.InsertSource(ctx, src); err != nil {
			if isUniqueViolation(err) {
				logger.Warn().Msg("Duplicate URL")
				res.Errors = append(res.Errors, fmt.Sprintf("line %d: duplicate URL: %s", line, src.URL))
			} else {
				logger.Error().Err(err).Msg("Failed to insert source")
				res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
			}
			continue
		}
		res.Imported++
		logger.Debug().Msg("Source inserted")
	}
	return res, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func columnIndex(header []string, name string) int {
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), name) {
			return i
		}
	}
	return -1
}

// field returns the value at index, invalid when missing or blank.
func field(record []string, index int) sql.NullString {
	if index >= 0 && index < len(record) && strings.TrimSpace(record[index]) != "" {
		return sql.NullString{String: strings.TrimSpace(record[index]), Valid: true}
	}
	return sql.NullString{}
}
