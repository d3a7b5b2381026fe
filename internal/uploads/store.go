package uploads

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	opStoreNew  = "uploads.store.new"
	opSave      = "uploads.save"
	URLPrefix   = "/uploads"
	dirPerm     = 0o755
	filePerm    = 0o644
	maxNameSize = 255
	sniffBytes  = 3072
	genericMime = "application/octet-stream"

	reasonMissingDir   = "missing_directory"
	reasonMissingFile  = "missing_file"
	reasonInvalidType  = "invalid_type"
	reasonImageTooBig  = "image_too_large"
	reasonFileTooBig   = "file_too_large"
	reasonWriteFailed  = "write_failed"
	reasonPrepareStore = "prepare_failed"
)

var (
	ErrMissingFile    = errors.New("No file uploaded")
	ErrInvalidType    = errors.New("Invalid file type. Allowed types: images (JPEG, PNG, GIF, WebP) and videos (MP4, WebM, MOV)")
	ErrImageTooLarge  = errors.New("Image file too large. Maximum size is 10MB.")
	ErrFileTooLarge   = errors.New("File too large. Maximum size is 100MB for videos and 10MB for images.")
	errMissingBaseDir = errors.New("uploads directory is required")
	noOpLogger        = zap.NewNop()
)

// StoreError carries a stable code alongside the underlying failure.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Upload describes an incoming file.
type Upload struct {
	OriginalName string
	MimeType     string
	Size         int64
	Content      io.Reader
}

// StoredFile describes a file written to disk.
type StoredFile struct {
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName"`
	MimeType     string    `json:"mimetype"`
	Size         int64     `json:"size"`
	MediaType    MediaType `json:"mediaType"`
	URL          string    `json:"url"`
}

type StoreConfig struct {
	BaseDir string
	Logger  *zap.Logger
	NameFn  func() string
}

// Store writes uploads beneath a base directory, split by media type.
type Store struct {
	baseDir string
	logger  *zap.Logger
	nameFn  func() string
}

func NewStore(cfg StoreConfig) (*Store, error) {
	baseDir := strings.TrimSpace(cfg.BaseDir)
	if baseDir == "" {
		return nil, newStoreError(opStoreNew, reasonMissingDir, errMissingBaseDir)
	}
	for _, media := range []MediaType{MediaImage, MediaVideo} {
		if err := os.MkdirAll(filepath.Join(baseDir, media.Folder()), dirPerm); err != nil {
			return nil, newStoreError(opStoreNew, reasonPrepareStore, err)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	nameFn := cfg.NameFn
	if nameFn == nil {
		nameFn = uuid.NewString
	}
	return &Store{baseDir: baseDir, logger: logger, nameFn: nameFn}, nil
}

// BaseDir returns the directory served under URLPrefix.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Save validates and writes the upload, returning its public description.
func (s *Store) Save(ctx context.Context, upload Upload) (StoredFile, error) {
	if upload.Content == nil || strings.TrimSpace(upload.OriginalName) == "" {
		return StoredFile{}, newStoreError(opSave, reasonMissingFile, ErrMissingFile)
	}
	content := bufio.NewReaderSize(upload.Content, sniffBytes)
	mimeType := strings.TrimSpace(upload.MimeType)
	if mimeType == "" || strings.EqualFold(mimeType, genericMime) {
		head, _ := content.Peek(sniffBytes)
		if len(head) > 0 {
			mimeType = mimetype.Detect(head).String()
			if base, _, found := strings.Cut(mimeType, ";"); found {
				mimeType = base
			}
		}
	}

	media, ok := Classify(upload.OriginalName, mimeType)
	if !ok {
		return StoredFile{}, newStoreError(opSave, reasonInvalidType, ErrInvalidType)
	}
	if err := checkSize(media, upload.Size); err != nil {
		return StoredFile{}, err
	}
	if err := ctx.Err(); err != nil {
		return StoredFile{}, newStoreError(opSave, reasonWriteFailed, err)
	}

	filename := s.nameFn() + StoredExtension(upload.OriginalName, mimeType)
	destination := filepath.Join(s.baseDir, media.Folder(), filename)

	written, err := s.write(destination, content, media.MaxSize())
	if err != nil {
		if errors.Is(err, ErrImageTooLarge) || errors.Is(err, ErrFileTooLarge) {
			return StoredFile{}, err
		}
		s.logger.Error("failed to store upload",
			zap.String("operation", opSave),
			zap.String("reason", reasonWriteFailed),
			zap.String("path", destination),
			zap.Error(err),
		)
		return StoredFile{}, newStoreError(opSave, reasonWriteFailed, err)
	}
	if err := checkSize(media, written); err != nil {
		_ = os.Remove(destination)
		return StoredFile{}, err
	}

	s.logger.Info("stored upload",
		zap.String("filename", filename),
		zap.String("media_type", string(media)),
		zap.Int64("size", written),
	)

	return StoredFile{
		Filename:     filename,
		OriginalName: truncateName(upload.OriginalName),
		MimeType:     mimeType,
		Size:         written,
		MediaType:    media,
		URL:          path.Join(URLPrefix, media.Folder(), filename),
	}, nil
}

func (s *Store) write(destination string, content io.Reader, limit int64) (int64, error) {
	file, err := os.OpenFile(destination, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		return 0, err
	}
	written, copyErr := io.Copy(file, io.LimitReader(content, limit+1))
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(destination)
		return 0, errors.Join(copyErr, closeErr)
	}
	return written, nil
}

func checkSize(media MediaType, size int64) error {
	if size <= media.MaxSize() {
		return nil
	}
	if media == MediaImage {
		return newStoreError(opSave, reasonImageTooBig, ErrImageTooLarge)
	}
	return newStoreError(opSave, reasonFileTooBig, ErrFileTooLarge)
}

func truncateName(name string) string {
	name = strings.TrimSpace(name)
	if len(name) > maxNameSize {
		return name[:maxNameSize]
	}
	return name
}
