// Package caption produces a free-text description of the raw capture,
// independent of OCR. Captioning runs over the unmodified capture because
// the vision model prefers natural image statistics.
package caption

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
)

// ModelKey is the fixed registry key for the captioning engine.
const ModelKey = "caption"

// Result is a caption with the model that produced it.
type Result struct {
	Text    string
	ModelID string
}

// Engine captions a single image. Managed by the model registry; not safe
// for concurrent use.
type Engine interface {
	Caption(ctx context.Context, img image.Image) (Result, error)
	Close() error
}

// Describer is the hosted vision call backing VisionEngine. Satisfied by
// *llm.Client.
type Describer interface {
	Describe(ctx context.Context, imageData []byte) (string, error)
	ModelID() string
}

// VisionEngine captions by delegating to a hosted vision model.
type VisionEngine struct {
	describer Describer
}

func NewVisionEngine(d Describer) *VisionEngine {
	return &VisionEngine{describer: d}
}

func (e *VisionEngine) Caption(ctx context.Context, img image.Image) (Result, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Result{}, fmt.Errorf("failed to encode capture: %w", err)
	}

	text, err := e.describer.Describe(ctx, buf.Bytes())
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text, ModelID: e.describer.ModelID()}, nil
}

func (e *VisionEngine) Close() error { return nil }
