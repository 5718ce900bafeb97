package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"argus/core"
	"argus/queue"
	"argus/storage"

	"go.uber.org/zap"
)

// maxRecordBytes bounds a single serialized record. Oversized lines are
// skipped with a warning instead of aborting the whole file.
const maxRecordBytes = 4 * 1024 * 1024

// FileRecordSource loads the parsed events of a task's file from the
// upload directory. Uploads land as NDJSON, one record per line, named
// by file id. Parsing raw EVTX/CSV into NDJSON happens upstream at
// upload time.
type FileRecordSource struct {
	store     storage.CaseFileStore
	uploadDir string
	logger    *zap.SugaredLogger
}

// NewFileRecordSource creates a source over an upload directory.
func NewFileRecordSource(store storage.CaseFileStore, uploadDir string, logger *zap.SugaredLogger) *FileRecordSource {
	return &FileRecordSource{store: store, uploadDir: uploadDir, logger: logger}
}

// Records implements queue.RecordSource.
func (s *FileRecordSource) Records(ctx context.Context, task *queue.Task) ([]core.Record, error) {
	file, err := s.store.GetFile(ctx, task.FileID)
	if err != nil {
		return nil, fmt.Errorf("load file %s: %w", task.FileID, err)
	}

	path := filepath.Join(s.uploadDir, file.ID+".ndjson")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload for file %s: %w", file.ID, err)
	}
	defer f.Close()

	format := formatForFilename(file.Filename)

	var records []core.Record
	skipped := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxRecordBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var fields map[string]interface{}
		if err := json.Unmarshal(line, &fields); err != nil {
			skipped++
			continue
		}
		records = append(records, core.Record{Format: format, Fields: fields})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read upload for file %s: %w", file.ID, err)
	}

	if skipped > 0 {
		s.logger.Warnw("Skipped undecodable upload lines",
			"file_id", file.ID,
			"skipped", skipped,
			"loaded", len(records))
	}
	return records, nil
}

// formatForFilename maps an upload's original extension to its source
// format. Unknown extensions stay unhinted; the pipeline falls back to
// structural detection per record.
func formatForFilename(filename string) core.SourceFormat {
	switch filepath.Ext(filename) {
	case ".evtx":
		return core.FormatWindowsEvent
	case ".csv":
		return core.FormatFirewall
	default:
		return ""
	}
}
