package processor

import (
	"fmt"
	"net"
	"path/filepath"
	"sync"

	"rdtpbench/pkg/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PayloadWriter saves every received payload as a new file in a directory.
// It is safe for concurrent use by several receivers.
type PayloadWriter struct {
	dir         string
	protocol    string
	fileService *FileService
	log         logrus.FieldLogger

	mu sync.Mutex
}

// NewPayloadWriter creates a writer storing payloads under dir. Files are
// named after protocol so the receivers can share one directory.
func NewPayloadWriter(dir, protocol string, log logrus.FieldLogger) (*PayloadWriter, error) {
	fs := NewFileService()
	if err := fs.ensureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create destination directory: %w", err)
	}
	return &PayloadWriter{
		dir:         dir,
		protocol:    protocol,
		fileService: fs,
		log:         log.WithField("protocol", protocol),
	}, nil
}

// Deliver writes payload to a fresh file
func (w *PayloadWriter) Deliver(peer net.Addr, payload []byte) error {
	destPath := filepath.Join(w.dir, fmt.Sprintf("%s-%s.bin", w.protocol, uuid.NewString()))

	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := w.fileService.createWriter(destPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}

	if _, err := file.Write(payload); err != nil {
		file.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	w.log.WithFields(logrus.Fields{
		"peer":     peer,
		"file":     destPath,
		"size":     utils.FormatFileSize(int64(len(payload))),
		"checksum": checksum(payload),
	}).Info("Payload saved")
	return nil
}
