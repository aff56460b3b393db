package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"poolIndexer/internal/model"
)

// DeadLetterFile appends skipped logs to a JSONL file for later inspection.
type DeadLetterFile struct {
	path string
	mu   sync.Mutex
}

func NewDeadLetterFile(path string) *DeadLetterFile {
	return &DeadLetterFile{path: path}
}

// Write appends failures as JSON lines. The file is opened per call so it can be rotated
// externally while the pipeline runs.
func (s *DeadLetterFile) Write(failures ...model.DecodeFailure) error {
	if len(failures) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dead-letter dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open dead-letter file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	encoder := json.NewEncoder(writer)
	for _, failure := range failures {
		if err := encoder.Encode(failure); err != nil {
			return fmt.Errorf("write decode failure: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush dead-letter file: %w", err)
	}

	return nil
}
