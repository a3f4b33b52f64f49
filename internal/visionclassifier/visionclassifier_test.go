package visionclassifier

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x01}, 32)...)
	pngBytes  = append([]byte("\x89PNG\x0D\x0A\x1A\x0A"), bytes.Repeat([]byte{0x01}, 32)...)
)

func TestNormalizeMIME(t *testing.T) {
	assert.Equal(t, MIMEJPEG, NormalizeMIME(" Image/JPG "))
	assert.Equal(t, MIMEPNG, NormalizeMIME("image/png; charset=binary"))
	assert.True(t, Accepted("image/webp"))
	assert.False(t, Accepted("image/gif"))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Image{MIMEType: "image/jpeg", Data: jpegBytes}.Validate(1024))
	assert.NoError(t, Image{MIMEType: "image/png", Data: pngBytes}.Validate(0))

	assert.ErrorIs(t, Image{MIMEType: "image/jpeg"}.Validate(1024), ErrMissingImage)
	assert.ErrorIs(t, Image{MIMEType: "text/plain", Data: []byte("hello")}.Validate(1024), ErrUnsupportedImage)
	assert.ErrorIs(t, Image{MIMEType: "image/png", Data: jpegBytes}.Validate(1024), ErrUnsupportedImage)
	assert.ErrorIs(t, Image{MIMEType: "image/jpeg", Data: jpegBytes}.Validate(8), ErrImageTooLarge)
}
