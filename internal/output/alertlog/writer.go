// Package alertlog appends fired alerts to a JSON lines audit file.
package alertlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"telemetryhub/internal/logger"
	"telemetryhub/pkg/models"
)

// Writer is an append-only JSONL alert sink.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// NewWriter opens (or creates) the audit file for appending.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create alert log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open alert log: %w", err)
	}

	logger.Infof("Alert audit log initialized: %s", path)
	return &Writer{file: f, encoder: json.NewEncoder(f)}, nil
}

// WriteAlert appends one alert record.
func (w *Writer) WriteAlert(rec *models.AlertRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.encoder.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	return nil
}

// Close closes the audit file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
