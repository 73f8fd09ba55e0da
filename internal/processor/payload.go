package processor

import (
	"fmt"
	"io"
	"math"
	"path/filepath"

	"rdtpbench/pkg/utils"

	"github.com/sirupsen/logrus"
)

// Payload is a file loaded into memory for transfer. Every protocol sends
// the same bytes, so it is read once per run.
type Payload struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"` // hex SHA-256

	Data []byte `json:"-"`
}

// LoadPayload reads the whole file at path
func LoadPayload(path string, log logrus.FieldLogger) (*Payload, error) {
	fs := NewFileService()
	file, err := fs.openReader(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if stat.Size() > math.MaxInt32 {
		return nil, fmt.Errorf("file of %s is too large to transfer", utils.FormatFileSize(stat.Size()))
	}

	data := make([]byte, stat.Size())
	if _, err := io.ReadFull(file, data); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	p := &Payload{
		Name:     filepath.Base(path),
		Size:     stat.Size(),
		Checksum: checksum(data),
		Data:     data,
	}

	log.WithFields(logrus.Fields{
		"file":     path,
		"size":     utils.FormatFileSize(p.Size),
		"checksum": p.Checksum,
	}).Info("Payload loaded")
	return p, nil
}
