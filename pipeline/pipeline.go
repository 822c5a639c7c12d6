// Package pipeline drives a full analysis run: capture, preprocessing,
// parallel text extraction and captioning, prompt synthesis and the final
// LLM pass. Runs execute on their own goroutine; the caller only consumes
// the event stream.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"screen-explain/caption"
	"screen-explain/langpolicy"
	"screen-explain/ocr"
	"screen-explain/preprocess"
	"screen-explain/prompt"
	"screen-explain/registry"
	"screen-explain/screenshot"
)

// State names the orchestrator's position in a run. Transitions are
// one-directional; no stage re-enters within one run.
type State string

const (
	StateIdle          State = "idle"
	StateCapturing     State = "capturing"
	StatePreprocessing State = "preprocessing"
	StateRecognizing   State = "recognizing" // extraction and captioning in parallel
	StateSynthesizing  State = "synthesizing"
	StateComplete      State = "complete"
	StateDegraded      State = "degraded" // complete with partial stage failures
	StateAborted       State = "aborted"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateDegraded || s == StateAborted
}

// Stage names, used in events and stage errors.
const (
	StageCapture    = "capture"
	StagePreprocess = "preprocess"
	StageExtract    = "extract"
	StageCaption    = "caption"
	StagePrompt     = "prompt"
	StageSynthesize = "synthesize"
)

// Request identifies one full pipeline run. Immutable. A zero Region asks
// for the full virtual screen.
type Request struct {
	Region     screenshot.Region
	Languages  []string
	Candidates int // preprocessed candidate images; <1 means 1
}

// StageError is a stage-local failure that degraded, but did not abort,
// the run.
type StageError struct {
	Stage    string
	Language string // set for per-language extraction failures
	Err      error
}

func (e StageError) Error() string {
	if e.Language != "" {
		return fmt.Sprintf("%s (%s): %v", e.Stage, e.Language, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e StageError) Unwrap() error { return e.Err }

// Result accumulates stage outputs over a run and is immutable once the
// terminal event is published.
type Result struct {
	Fragments   []ocr.Fragment
	Caption     caption.Result
	PromptText  string
	FinalText   string
	StageErrors []StageError
}

// Event is one entry in the orchestrator's output stream: a state
// transition, a completed stage with its partial result, or the terminal
// event carrying the full Result.
type Event struct {
	State   State
	Stage   string      // completed stage; empty for pure state transitions
	Partial interface{} // stage payload: []ocr.Fragment, caption.Result or string
	Result  *Result     // set on terminal events only
	Err     error       // abort reason on terminal aborted events
}

// CaptureFunc is the capture collaborator.
type CaptureFunc func(region screenshot.Region) (image.Image, error)

// Completer is the synthesis collaborator (satisfied by *llm.Client).
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options configures an Orchestrator.
type Options struct {
	Capture       CaptureFunc // defaults to screenshot.CaptureRegion
	Models        *registry.Registry
	Completer     Completer
	SynthTimeout  time.Duration // bounded wait on the synthesis call; default 45s
	EventBuffer   int           // event channel capacity; default 16
	MergeIoU      float64       // passed to the extractor; 0 = default
	MinConfidence float64       // passed to the extractor; 0 = default
}

// Orchestrator owns pipeline runs. At most one run is active; starting a new
// run cancels the one in flight (cooperatively, honored at stage boundaries).
type Orchestrator struct {
	capture      CaptureFunc
	models       *registry.Registry
	completer    Completer
	synthTimeout time.Duration
	extractor    *ocr.Extractor

	events chan Event

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an orchestrator. Models and Completer are required.
func New(opts Options) *Orchestrator {
	capture := opts.Capture
	if capture == nil {
		capture = func(region screenshot.Region) (image.Image, error) {
			return screenshot.CaptureRegion(region)
		}
	}
	synthTimeout := opts.SynthTimeout
	if synthTimeout <= 0 {
		synthTimeout = 45 * time.Second
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = 16
	}
	return &Orchestrator{
		capture:      capture,
		models:       opts.Models,
		completer:    opts.Completer,
		synthTimeout: synthTimeout,
		extractor: &ocr.Extractor{
			Models:        opts.Models,
			MergeIoU:      opts.MergeIoU,
			MinConfidence: opts.MinConfidence,
		},
		events: make(chan Event, buffer),
	}
}

// Events is the ordered stream of stage and terminal events. Callers must
// drain it while a run is active; a cancelled run drops events it cannot
// deliver rather than blocking on a stalled consumer.
func (o *Orchestrator) Events() <-chan Event { return o.events }

// Start validates the request and launches the run on its own goroutine.
// A PolicyViolation is returned immediately and no run starts. Any run in
// flight is cancelled and waited out before the new run begins, so at most
// one run is ever active.
func (o *Orchestrator) Start(req Request) error {
	langs, err := langpolicy.Validate(req.Languages)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	prev := o.done
	o.cancel = cancel
	o.done = done
	o.mu.Unlock()

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		o.run(ctx, req, langs)
	}()
	return nil
}

// Cancel requests cooperative cancellation of the run in flight. The run
// transitions to Aborted at its next stage boundary.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the current run (if any) reaches a terminal state.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

// emit delivers ev through the buffer. When the buffer is full it blocks
// until the consumer drains or the run is cancelled, so a stalled consumer
// can never wedge a run beyond Cancel's reach.
func (o *Orchestrator) emit(ctx context.Context, ev Event) {
	select {
	case o.events <- ev:
		return
	default:
	}
	select {
	case o.events <- ev:
	case <-ctx.Done():
		log.Printf("pipeline: dropped %s event, consumer not draining", ev.State)
	}
}

func (o *Orchestrator) run(ctx context.Context, req Request, langs langpolicy.LanguageSet) {
	res := &Result{}

	abort := func(stage string, err error) {
		log.Printf("pipeline: aborted at %s: %v", stage, err)
		o.emit(ctx, Event{State: StateAborted, Stage: stage, Result: res, Err: err})
	}

	// Capture
	o.emit(ctx, Event{State: StateCapturing})
	img, err := o.capture(req.Region)
	if err != nil {
		abort(StageCapture, err)
		return
	}
	if ctx.Err() != nil {
		abort(StageCapture, ctx.Err())
		return
	}

	// Preprocess. A malformed capture fails here, before any model runs.
	o.emit(ctx, Event{State: StatePreprocessing, Stage: StageCapture})
	variants, err := preprocess.Run(img, req.Candidates)
	if err != nil {
		abort(StagePreprocess, err)
		return
	}
	if ctx.Err() != nil {
		abort(StagePreprocess, ctx.Err())
		return
	}

	// Extraction and captioning are independent of each other; run both and
	// join before prompting. Stage failures degrade, they do not abort.
	o.emit(ctx, Event{State: StateRecognizing, Stage: StagePreprocess, Partial: transformNames(variants)})

	var resMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		frags, failures := o.extractor.Extract(gctx, variants, langs)
		resMu.Lock()
		res.Fragments = frags
		for _, f := range failures {
			res.StageErrors = append(res.StageErrors, StageError{Stage: StageExtract, Language: f.Language, Err: f.Err})
		}
		resMu.Unlock()
		o.emit(ctx, Event{State: StateRecognizing, Stage: StageExtract, Partial: frags})
		return nil
	})

	g.Go(func() error {
		capRes, err := o.captionImage(gctx, img)
		resMu.Lock()
		if err != nil {
			res.StageErrors = append(res.StageErrors, StageError{Stage: StageCaption, Err: err})
		} else {
			res.Caption = capRes
		}
		resMu.Unlock()
		o.emit(ctx, Event{State: StateRecognizing, Stage: StageCaption, Partial: capRes})
		return nil
	})

	_ = g.Wait()
	if ctx.Err() != nil {
		abort(StageExtract, ctx.Err())
		return
	}

	// Prompt synthesis is pure; it cannot fail.
	res.PromptText = prompt.Synthesize(res.Fragments, res.Caption)
	o.emit(ctx, Event{State: StateSynthesizing, Stage: StagePrompt, Partial: res.PromptText})

	sctx, scancel := context.WithTimeout(ctx, o.synthTimeout)
	finalText, err := o.completer.Complete(sctx, res.PromptText)
	scancel()
	if err != nil {
		if ctx.Err() != nil {
			abort(StageSynthesize, ctx.Err())
			return
		}
		res.StageErrors = append(res.StageErrors, StageError{Stage: StageSynthesize, Err: err})
	} else {
		res.FinalText = finalText
	}

	terminal := StateComplete
	if len(res.StageErrors) > 0 {
		terminal = StateDegraded
	}
	o.emit(ctx, Event{State: terminal, Stage: StageSynthesize, Result: res})
}

// captionImage runs the captioning engine through the registry, serialized
// on the handle. The call itself is not pre-emptible; cancellation is
// observed when it returns.
func (o *Orchestrator) captionImage(ctx context.Context, img image.Image) (caption.Result, error) {
	handle, err := o.models.GetOrLoad(caption.ModelKey)
	if err != nil {
		return caption.Result{}, err
	}

	var out caption.Result
	err = handle.Do(func(engine registry.Engine) error {
		c, ok := engine.(caption.Engine)
		if !ok {
			return fmt.Errorf("engine for %q cannot caption", handle.Key())
		}
		var cerr error
		out, cerr = c.Caption(ctx, img)
		return cerr
	})
	return out, err
}

func transformNames(variants []preprocess.Variant) []string {
	names := make([]string, len(variants))
	for i, v := range variants {
		names[i] = v.Transform
	}
	return names
}
