package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// traineddataNames maps policy language ids to Tesseract traineddata names.
var traineddataNames = map[string]string{
	"en":     "eng",
	"ch_tra": "chi_tra",
	"ja":     "jpn",
	"ko":     "kor",
	"fr":     "fra",
	"de":     "deu",
}

// TesseractEngine recognizes text via the system Tesseract installation.
// One engine per language; inference is serialized by the registry handle.
type TesseractEngine struct {
	client   *gosseract.Client
	language string
}

// NewTesseractEngine creates an engine for a policy language id. Fails when
// the language has no traineddata mapping or Tesseract rejects it (missing
// language pack).
func NewTesseractEngine(language string) (*TesseractEngine, error) {
	trained, ok := traineddataNames[language]
	if !ok {
		return nil, fmt.Errorf("no traineddata for language %q", language)
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(trained); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to set language %s: %w", trained, err)
	}
	return &TesseractEngine{client: client, language: language}, nil
}

// Recognize returns word-level fragments with confidence scaled to [0,1].
func (t *TesseractEngine) Recognize(img image.Image) ([]Fragment, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	if err := t.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("OCR failed: %w", err)
	}

	frags := make([]Fragment, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		frags = append(frags, Fragment{
			Text:       text,
			Box:        b.Box,
			Confidence: b.Confidence / 100.0,
			Language:   t.language,
		})
	}
	return frags, nil
}

func (t *TesseractEngine) Close() error {
	return t.client.Close()
}
