package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileNotifier appends notifications to a JSON lines file.
type FileNotifier struct {
	mu       sync.Mutex
	filePath string
}

// NewFileNotifier creates a FileNotifier, making sure the directory exists.
func NewFileNotifier(filePath string) (*FileNotifier, error) {
	if strings.TrimSpace(filePath) == "" {
		return nil, fmt.Errorf("notification log file path cannot be empty")
	}
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for notification log '%s': %w", dir, err)
	}
	return &FileNotifier{filePath: filePath}, nil
}

// Notify writes n as one line.
func (f *FileNotifier) Notify(ctx context.Context, n Notification) error {
	n.Stamp()
	line, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	file, err := os.OpenFile(f.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open notification log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("failed to write notification to log file: %w", err)
	}
	return nil
}
