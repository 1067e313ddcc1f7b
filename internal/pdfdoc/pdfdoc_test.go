package pdfdoc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMIMEType(t *testing.T) {
	tests := map[string]string{
		"jpg":  "image/jpeg",
		"tif":  "image/tiff",
		"png":  "image/png",
		"":     "image/png",
		"webp": "image/webp",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, MIMEType(in))
		})
	}
}

func TestRejectsNonPDF(t *testing.T) {
	inspector := NewInspector()

	_, err := inspector.PageCount([]byte("hello"))
	assert.Error(t, err)

	_, err = inspector.ExtractImages(context.Background(), []byte("hello"))
	assert.Error(t, err)
}
