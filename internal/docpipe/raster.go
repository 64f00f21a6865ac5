package docpipe

import (
	"context"
	"fmt"

	"github.com/gen2brain/go-fitz"
	"golang.org/x/sync/semaphore"
)

const (
	// Only the leading pages of a document are rasterized; anything
	// past them rarely carries verification-relevant content.
	maxPagesPerDocument = 3

	// 144 dpi is a 2x render of the PDF's nominal 72 dpi layout,
	// enough for the vision model to read small print.
	renderDPI = 144
)

// Rasterizer turns document bytes into PNG page images.
type Rasterizer interface {
	// Render returns PNG images for up to maxPages leading pages.
	Render(ctx context.Context, data []byte, maxPages int) ([][]byte, error)
}

// FitzRasterizer renders PDFs and images through MuPDF. Rendering is
// CPU-bound, so concurrency is capped by a weighted semaphore shared
// across all documents in flight.
type FitzRasterizer struct {
	sem *semaphore.Weighted
}

// NewRasterizer builds a rasterizer allowing maxConcurrent renders at
// once.
func NewRasterizer(maxConcurrent int64) *FitzRasterizer {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &FitzRasterizer{sem: semaphore.NewWeighted(maxConcurrent)}
}

// Render rasterizes up to maxPages leading pages to PNG at 2x scale.
func (r *FitzRasterizer) Render(ctx context.Context, data []byte, maxPages int) ([][]byte, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages > maxPages {
		pages = maxPages
	}

	images := make([][]byte, 0, pages)
	for page := 0; page < pages; page++ {
		png, err := doc.ImagePNG(page, renderDPI)
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", page+1, err)
		}
		images = append(images, png)
	}
	return images, nil
}
