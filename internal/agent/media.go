package agent

import (
	"encoding/base64"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/hermit/internal/providers"
)

// maxImageBytes caps how large an attached image may be (10MB).
const maxImageBytes = 10 * 1024 * 1024

// loadImages reads inbound media paths into base64 image content for
// vision-capable models. Unsupported extensions, unreadable files and
// oversized files are skipped with a warning.
func loadImages(paths []string) []providers.ImageContent {
	var images []providers.ImageContent
	for _, p := range paths {
		mime := imageMime(p)
		if mime == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			slog.Warn("skipping unreadable media file", "path", p, "error", err)
			continue
		}
		if len(data) > maxImageBytes {
			slog.Warn("skipping oversized media file", "path", p, "bytes", len(data))
			continue
		}
		images = append(images, providers.ImageContent{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(data),
		})
	}
	return images
}

// imageMime maps a file extension to its image MIME type, "" for
// anything that is not a supported image.
func imageMime(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}
