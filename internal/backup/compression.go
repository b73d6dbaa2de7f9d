package backup

import (
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// CompressionConfig controls archive compression
// Type values: "deflate", "store"
type CompressionConfig struct {
	Type  string `json:"type"`
	Level int    `json:"level,omitempty"`
}

func normalizeCompression(config CompressionConfig) CompressionConfig {
	compressionType := strings.ToLower(strings.TrimSpace(config.Type))
	if compressionType == "" {
		compressionType = "deflate"
	}

	level := config.Level
	if level == 0 {
		level = 6
	}
	if level < 1 {
		level = 1
	}
	if level > 9 {
		level = 9
	}

	if compressionType != "deflate" && compressionType != "store" {
		compressionType = "deflate"
	}

	return CompressionConfig{
		Type:  compressionType,
		Level: level,
	}
}

// zipMethod returns the entry method for the configured compression
func zipMethod(config CompressionConfig) uint16 {
	if normalizeCompression(config).Type == "store" {
		return zip.Store
	}
	return zip.Deflate
}

// registerCompressor installs a deflate writer honouring the configured level
func registerCompressor(w *zip.Writer, config CompressionConfig) {
	level := normalizeCompression(config).Level
	w.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})
}
