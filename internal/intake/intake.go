// Package intake accepts a single user supplied image into the workflow.
//
// A selection arrives from either a drag-and-drop gesture or the browse
// dialog. Only the first offered file is considered; anything that is not a
// JPEG or PNG is rejected before it can reach the classifier.
package intake

import (
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Supported MIME types.
const (
	MIMETypeJPEG = "image/jpeg"
	MIMETypePNG  = "image/png"
)

var (
	// ErrInvalidFileType is returned for anything that is not a JPEG or PNG.
	ErrInvalidFileType = errors.New("invalid file type: only JPEG and PNG images are accepted")
	// ErrNoFile is returned when a gesture carries no file at all.
	ErrNoFile = errors.New("no file provided")
	// ErrEmptyFile is returned for a zero byte file.
	ErrEmptyFile = errors.New("file is empty")
	// ErrFileTooLarge is returned when the file exceeds the configured limit.
	ErrFileTooLarge = errors.New("file is too large")
)

// Source identifies the gesture that produced a selection.
type Source string

const (
	SourceDrop   Source = "drop"
	SourceBrowse Source = "browse"
)

// ParseSource maps a form value to a Source, defaulting to browse.
func ParseSource(value string) Source {
	if Source(strings.ToLower(strings.TrimSpace(value))) == SourceDrop {
		return SourceDrop
	}
	return SourceBrowse
}

// Candidate is a file offered by a gesture, not yet validated.
type Candidate struct {
	Name         string
	DeclaredType string
	Data         []byte
}

// SelectedFile is an accepted image. ID is unique per acceptance, so accepting
// identical bytes twice still yields two distinct identities.
type SelectedFile struct {
	ID         uuid.UUID
	Name       string
	MIMEType   string
	Data       []byte
	Source     Source
	AcceptedAt time.Time
}

// Size returns the file length in bytes.
func (f *SelectedFile) Size() int {
	if f == nil {
		return 0
	}
	return len(f.Data)
}

// Intake validates candidates against the accepted types and size limit.
type Intake struct {
	maxBytes int64
	logger   *zap.Logger
	now      func() time.Time
}

// New constructs an Intake. maxBytes <= 0 disables the size check.
func New(maxBytes int64, logger *zap.Logger) *Intake {
	return &Intake{
		maxBytes: maxBytes,
		logger:   logger.Named("intake"),
		now:      time.Now,
	}
}

// MaxBytes returns the configured size limit.
func (i *Intake) MaxBytes() int64 {
	return i.maxBytes
}

// Accept validates the first candidate and discards the rest.
func (i *Intake) Accept(source Source, candidates ...Candidate) (*SelectedFile, error) {
	if len(candidates) == 0 {
		return nil, ErrNoFile
	}
	if extra := len(candidates) - 1; extra > 0 {
		i.logger.Info("discarding extra files", zap.Int("discarded", extra), zap.String("source", string(source)))
	}

	c := candidates[0]
	if len(c.Data) == 0 {
		return nil, ErrEmptyFile
	}
	if i.maxBytes > 0 && int64(len(c.Data)) > i.maxBytes {
		return nil, fmt.Errorf("%w: limit is %s", ErrFileTooLarge, humanize.IBytes(uint64(i.maxBytes)))
	}

	mimeType := ResolveType(c.DeclaredType, c.Data)
	if !IsAllowed(mimeType) {
		i.logger.Info("rejected file",
			zap.String("name", c.Name),
			zap.String("declared_type", c.DeclaredType),
			zap.String("source", string(source)),
		)
		return nil, ErrInvalidFileType
	}

	return &SelectedFile{
		ID:         uuid.New(),
		Name:       c.Name,
		MIMEType:   mimeType,
		Data:       c.Data,
		Source:     source,
		AcceptedAt: i.now().UTC(),
	}, nil
}

// ResolveType normalises the declared type. Only when nothing useful was
// declared is the content sniffed.
func ResolveType(declared string, data []byte) string {
	mediaType := strings.ToLower(strings.TrimSpace(declared))
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	if mediaType == "image/jpg" || mediaType == "image/pjpeg" {
		mediaType = MIMETypeJPEG
	}
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = mimetype.Detect(data).String()
	}
	return mediaType
}

// IsAllowed reports whether mimeType may enter the workflow.
func IsAllowed(mimeType string) bool {
	return mimeType == MIMETypeJPEG || mimeType == MIMETypePNG
}
