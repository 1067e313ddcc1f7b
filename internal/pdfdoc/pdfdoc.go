// Package pdfdoc reads structural information out of stored PDFs.
package pdfdoc

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"manual-rag/internal/models"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"
)

// Inspector counts pages and pulls embedded raster images from PDFs.
type Inspector struct {
	conf *model.Configuration
}

func NewInspector() *Inspector {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Inspector{conf: conf}
}

// PageCount returns the number of pages in data.
func (i *Inspector) PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), i.conf)
	if err != nil {
		return 0, fmt.Errorf("read page count: %w", err)
	}
	return n, nil
}

// ExtractImages returns every embedded image, numbered per page in the
// order pdfcpu reports them.
func (i *Inspector) ExtractImages(ctx context.Context, data []byte) ([]models.EmbeddedImage, error) {
	var images []models.EmbeddedImage
	perPage := map[int]int{}

	digest := func(img model.Image, _ bool, _ int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := io.ReadAll(img)
		if err != nil {
			log.Warn().Err(err).Int("page", img.PageNr).Str("image", img.Name).Msg("Failed to read embedded image")
			return nil
		}
		if len(raw) == 0 {
			return nil
		}
		images = append(images, models.EmbeddedImage{
			PageNumber: img.PageNr,
			Index:      perPage[img.PageNr],
			Data:       raw,
			MIMEType:   MIMEType(img.FileType),
			Width:      img.Width,
			Height:     img.Height,
		})
		perPage[img.PageNr]++
		return nil
	}

	if err := api.ExtractImages(bytes.NewReader(data), nil, digest, i.conf); err != nil {
		return nil, fmt.Errorf("extract images: %w", err)
	}
	log.Debug().Int("images", len(images)).Msg("Extracted embedded images")
	return images, nil
}

// MIMEType maps a pdfcpu image file type to a MIME type.
func MIMEType(fileType string) string {
	switch fileType {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "tif", "tiff":
		return "image/tiff"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
