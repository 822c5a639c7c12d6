package pipeline

import (
	"fmt"
	"strings"

	"screen-explain/caption"
	"screen-explain/ocr"
	"screen-explain/registry"
)

// NewLoader builds the registry loader for the default engine set: one
// Tesseract engine per OCR language key, and the hosted vision engine under
// the caption key.
func NewLoader(vision caption.Describer) registry.Loader {
	return func(key string) (registry.Engine, error) {
		switch {
		case strings.HasPrefix(key, ocr.KeyPrefix):
			return ocr.NewTesseractEngine(strings.TrimPrefix(key, ocr.KeyPrefix))
		case key == caption.ModelKey:
			return caption.NewVisionEngine(vision), nil
		}
		return nil, fmt.Errorf("unknown model key %q", key)
	}
}
