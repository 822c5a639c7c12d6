// Package ocr runs multi-language text extraction over preprocessed capture
// variants and merges the recognized fragments into reading order.
package ocr

import (
	"context"
	"fmt"
	"image"
	"sort"

	"screen-explain/langpolicy"
	"screen-explain/preprocess"
	"screen-explain/registry"
)

// KeyPrefix namespaces OCR engines inside the model registry; the full key
// is KeyPrefix + language id.
const KeyPrefix = "ocr:"

// Tunables. The merge threshold and confidence floor are product policy;
// override per Extractor when needed.
const (
	DefaultMergeIoU      = 0.6
	DefaultMinConfidence = 0.5
)

// Fragment is one recognized piece of text with its position in the source
// image and the engine's confidence in [0,1].
type Fragment struct {
	Text       string
	Box        image.Rectangle
	Confidence float64
	Language   string
}

// Engine recognizes text in a single image. Implementations are managed by
// the model registry and must not be called concurrently.
type Engine interface {
	Recognize(img image.Image) ([]Fragment, error)
	Close() error
}

// LanguageError records a per-language stage failure that did not abort the
// run (typically a model that failed to load).
type LanguageError struct {
	Language string
	Err      error
}

func (e LanguageError) Error() string {
	return fmt.Sprintf("language %s: %v", e.Language, e.Err)
}

func (e LanguageError) Unwrap() error { return e.Err }

// Extractor is the text extraction stage.
type Extractor struct {
	Models        *registry.Registry
	MergeIoU      float64 // 0 means DefaultMergeIoU
	MinConfidence float64 // 0 means DefaultMinConfidence
}

// Key returns the registry key for a language's OCR engine.
func Key(language string) string { return KeyPrefix + language }

// Extract recognizes text in every candidate image for every requested
// language. A language whose engine cannot be loaded is reported in the
// returned error slice and skipped; remaining languages still run.
// Fragments are de-duplicated across candidate images and returned in
// reading order (top to bottom, left to right).
func (e *Extractor) Extract(ctx context.Context, images []preprocess.Variant, langs langpolicy.LanguageSet) ([]Fragment, []LanguageError) {
	mergeIoU := e.MergeIoU
	if mergeIoU <= 0 {
		mergeIoU = DefaultMergeIoU
	}
	minConfidence := e.MinConfidence
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}

	var merged []Fragment
	var failures []LanguageError

	for _, lang := range langs {
		if ctx.Err() != nil {
			return sortFragments(merged), failures
		}

		handle, err := e.Models.GetOrLoad(Key(lang))
		if err != nil {
			failures = append(failures, LanguageError{Language: lang, Err: err})
			continue
		}

		for _, variant := range images {
			if ctx.Err() != nil {
				return sortFragments(merged), failures
			}

			var frags []Fragment
			err := handle.Do(func(engine registry.Engine) error {
				rec, ok := engine.(Engine)
				if !ok {
					return fmt.Errorf("engine for %q does not recognize text", handle.Key())
				}
				var rerr error
				frags, rerr = rec.Recognize(variant.Image)
				return rerr
			})
			if err != nil {
				failures = append(failures, LanguageError{Language: lang, Err: err})
				break
			}

			for _, f := range frags {
				if f.Confidence < minConfidence {
					continue
				}
				if f.Language == "" {
					f.Language = lang
				}
				merged = mergeFragment(merged, f, mergeIoU)
			}
		}
	}

	return sortFragments(merged), failures
}

// mergeFragment inserts f unless an existing fragment carries the same text
// in a near-identical box, in which case the higher-confidence one wins.
func mergeFragment(frags []Fragment, f Fragment, iouThreshold float64) []Fragment {
	for i, existing := range frags {
		if existing.Text != f.Text {
			continue
		}
		if iou(existing.Box, f.Box) >= iouThreshold {
			if f.Confidence > existing.Confidence {
				frags[i] = f
			}
			return frags
		}
	}
	return append(frags, f)
}

func sortFragments(frags []Fragment) []Fragment {
	sort.SliceStable(frags, func(i, j int) bool {
		if frags[i].Box.Min.Y != frags[j].Box.Min.Y {
			return frags[i].Box.Min.Y < frags[j].Box.Min.Y
		}
		return frags[i].Box.Min.X < frags[j].Box.Min.X
	})
	return frags
}

// iou computes intersection over union of two boxes.
func iou(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	interArea := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - interArea
	if union <= 0 {
		return 0
	}
	return interArea / union
}
