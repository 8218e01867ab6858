package extraction

import (
	"encoding/base64"
	"fmt"

	"github.com/gen2brain/go-fitz"
)

// pdfRenderDPI keeps rendered pages readable for the vision model without
// inflating the payload past provider limits.
const pdfRenderDPI = 150

// prepareImage normalizes a payload for the vision call. Images pass
// through; PDFs (email-forwarded receipts are often PDFs) get their first
// page rendered to PNG.
func prepareImage(payload []byte, contentType string) ([]byte, string, error) {
	switch contentType {
	case "image/jpeg", "image/png", "image/webp", "image/gif":
		return payload, contentType, nil
	case "application/pdf":
		png, err := renderFirstPage(payload)
		if err != nil {
			return nil, "", fmt.Errorf("failed to render PDF: %w", err)
		}
		return png, "image/png", nil
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, contentType)
	}
}

// renderFirstPage rasterizes page 0 of a PDF to PNG.
func renderFirstPage(pdf []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	png, err := doc.ImagePNG(0, pdfRenderDPI)
	if err != nil {
		return nil, fmt.Errorf("failed to rasterize page: %w", err)
	}
	return png, nil
}

func encodeDataURL(data []byte, contentType string) string {
	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))
}
