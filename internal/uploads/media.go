package uploads

import (
	"path/filepath"
	"strings"
)

// MediaType classifies an accepted upload.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"

	MaxImageSize int64 = 10 * 1024 * 1024
	MaxVideoSize int64 = 100 * 1024 * 1024
)

var (
	imageMimeTypes  = map[string]struct{}{"image/jpeg": {}, "image/png": {}, "image/gif": {}, "image/webp": {}}
	videoMimeTypes  = map[string]struct{}{"video/mp4": {}, "video/webm": {}, "video/quicktime": {}}
	imageExtensions = map[string]struct{}{".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}}
	videoExtensions = map[string]struct{}{".mp4": {}, ".webm": {}, ".mov": {}}
	mimeExtensions  = map[string]string{
		"image/jpeg":      ".jpg",
		"image/png":       ".png",
		"image/gif":       ".gif",
		"image/webp":      ".webp",
		"video/mp4":       ".mp4",
		"video/webm":      ".webm",
		"video/quicktime": ".mov",
	}
)

// Classify reports the media type of a file by MIME type or extension.
// A file is accepted when either one is on the allow list.
func Classify(originalName, mimeType string) (MediaType, bool) {
	extension := Extension(originalName)
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))

	if _, ok := videoMimeTypes[mimeType]; ok {
		return MediaVideo, true
	}
	if _, ok := videoExtensions[extension]; ok {
		return MediaVideo, true
	}
	if _, ok := imageMimeTypes[mimeType]; ok {
		return MediaImage, true
	}
	if _, ok := imageExtensions[extension]; ok {
		return MediaImage, true
	}
	return "", false
}

// Extension returns the lowercase extension of the file name, including the dot.
func Extension(originalName string) string {
	return strings.ToLower(filepath.Ext(strings.TrimSpace(originalName)))
}

// MaxSize returns the byte limit for the media type.
func (m MediaType) MaxSize() int64 {
	if m == MediaVideo {
		return MaxVideoSize
	}
	return MaxImageSize
}

// Folder returns the storage subdirectory for the media type.
func (m MediaType) Folder() string {
	if m == MediaVideo {
		return "videos"
	}
	return "images"
}

// StoredExtension returns the extension used on disk. The original extension is
// kept only when it is allow-listed; otherwise it is derived from the MIME type.
func StoredExtension(originalName, mimeType string) string {
	extension := Extension(originalName)
	if _, ok := imageExtensions[extension]; ok {
		return extension
	}
	if _, ok := videoExtensions[extension]; ok {
		return extension
	}
	return mimeExtensions[strings.ToLower(strings.TrimSpace(mimeType))]
}
