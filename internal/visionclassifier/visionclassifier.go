package visionclassifier

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Accepted image media types.
const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEWebP = "image/webp"
)

var (
	ErrMissingImage     = errors.New("both images required")
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrImageTooLarge    = errors.New("file too large")

	// ErrNoAnswer means the classifier replied without any usable text,
	// for example when the answer was blocked. Asking again will not help.
	ErrNoAnswer = errors.New("classifier returned no answer")
)

// Image is one inline attachment sent to the classifier.
type Image struct {
	MIMEType string
	Data     []byte
}

// Client compares images under an instruction prompt and answers with free text.
type Client interface {
	Classify(ctx context.Context, prompt string, images []Image) (string, error)
}

// NormalizeMIME lowercases a media type and folds common aliases.
func NormalizeMIME(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "image/jpg" || mt == "image/pjpeg" {
		return MIMEJPEG
	}
	return mt
}

// Accepted reports whether mimeType is one of the supported image types.
func Accepted(mimeType string) bool {
	switch NormalizeMIME(mimeType) {
	case MIMEJPEG, MIMEPNG, MIMEWebP:
		return true
	default:
		return false
	}
}

// Validate checks presence, declared type, sniffed content and size.
func (img Image) Validate(maxBytes int64) error {
	if len(img.Data) == 0 {
		return ErrMissingImage
	}
	declared := NormalizeMIME(img.MIMEType)
	if !Accepted(declared) || http.DetectContentType(img.Data) != declared {
		return ErrUnsupportedImage
	}
	if maxBytes > 0 && int64(len(img.Data)) > maxBytes {
		return ErrImageTooLarge
	}
	return nil
}
