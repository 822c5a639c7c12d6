package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"screen-explain/clipboard"
	"screen-explain/config"
	"screen-explain/llm"
	"screen-explain/logutil"
	"screen-explain/pipeline"
	"screen-explain/registry"
	"screen-explain/screenshot"
)

const (
	maxFileSizeMB = 10
	maxFileSize   = maxFileSizeMB * 1024 * 1024
)

type cliOptions struct {
	region     string
	filePath   string
	languages  []string
	candidates int
	jsonOutput bool
	verbose    bool
	copyResult bool
	apiKeyPath string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return runWithArgs(os.Args)
}

func runWithArgs(args []string) error {
	if len(args) == 0 {
		args = []string{"screen-explain"}
	}

	opts := &cliOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "screen-explain",
		Short:         "Capture a screen region and explain its contents",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithOptions(*opts)
		},
	}

	cmd.Flags().StringVar(&opts.region, "region", "", "Screen region as 'x,y,WxH' (default: full virtual screen)")
	cmd.Flags().StringVar(&opts.filePath, "file", "", "Analyze a PNG file instead of capturing (use '-' for stdin)")
	cmd.Flags().StringSliceVar(&opts.languages, "langs", nil, "OCR languages, at most two (default: LANGUAGES from config)")
	cmd.Flags().IntVar(&opts.candidates, "candidates", 0, "Preprocessed candidate images per run (default: CANDIDATE_IMAGES from config)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose progress to stderr")
	cmd.Flags().BoolVar(&opts.copyResult, "copy", false, "Copy the explanation to the clipboard")
	cmd.Flags().StringVar(&opts.apiKeyPath, "api-key-path", "", "Path to API key file (highest precedence)")

	return cmd
}

func runWithOptions(opts cliOptions) error {
	loadOptions := config.LoadOptions{APIKeyPathOverride: opts.apiKeyPath}
	cfg, err := config.LoadWithOptions(loadOptions)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logutil.Setup(cfg.EnableFileLogging, cfg.LogFile)

	if opts.verbose {
		fmt.Fprintf(os.Stderr, "[verbose] Config loaded: Model=%s CaptionModel=%s\n", cfg.Model, cfg.CaptionModel)
		fmt.Fprintf(os.Stderr, "[verbose] Effective API key path: %s\n", cfg.APIKeyPath)
		fmt.Fprintf(os.Stderr, "[verbose] API key: %s\n", logutil.RedactKey(cfg.APIKey))
	}

	if cfg.APIKey == "" {
		return fmt.Errorf("OPENROUTER_API_KEY not found. Checked key file %s and OPENROUTER_API_KEY env var", cfg.APIKeyPath)
	}
	if cfg.Model == "" {
		return fmt.Errorf("MODEL is required in .env file")
	}

	langs := opts.languages
	if len(langs) == 0 {
		langs = cfg.Languages
	}
	candidates := opts.candidates
	if candidates < 1 {
		candidates = cfg.Candidates
	}

	client := llm.New(llm.Config{
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		CaptionModel: cfg.CaptionModel,
		Providers:    cfg.Providers,
	})

	capture, source, err := resolveCapture(opts)
	if err != nil {
		return err
	}

	region := screenshot.Region{}
	if opts.region != "" {
		region, err = parseRegion(opts.region)
		if err != nil {
			return err
		}
	}

	models := registry.New(pipeline.NewLoader(client))
	defer models.Close()

	orch := pipeline.New(pipeline.Options{
		Capture:      capture,
		Models:       models,
		Completer:    client,
		SynthTimeout: time.Duration(cfg.SynthDeadlineSec) * time.Second,
	})

	startTime := time.Now()
	if err := orch.Start(pipeline.Request{Region: region, Languages: langs, Candidates: candidates}); err != nil {
		return err
	}

	result, state, runErr := drainEvents(orch, opts.verbose)
	elapsed := time.Since(startTime)

	if state == pipeline.StateAborted {
		return fmt.Errorf("run aborted: %w", runErr)
	}
	if opts.verbose {
		fmt.Fprintf(os.Stderr, "[verbose] Run finished %s in %v: %d fragments, %d stage errors\n",
			state, elapsed, len(result.Fragments), len(result.StageErrors))
	}

	if opts.copyResult && result.FinalText != "" {
		if err := clipboard.Init(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: clipboard unavailable: %v\n", err)
		} else {
			_ = clipboard.Write(result.FinalText)
		}
	}

	return outputResult(result, source, string(state), elapsed, opts.jsonOutput)
}

// resolveCapture picks the capture collaborator: live screen capture, or a
// decoded PNG when --file is given.
func resolveCapture(opts cliOptions) (pipeline.CaptureFunc, string, error) {
	if opts.filePath == "" {
		return nil, "screen", nil // pipeline defaults to screenshot.CaptureRegion
	}

	var imageData []byte
	var err error
	if opts.filePath == "-" {
		imageData, err = io.ReadAll(os.Stdin)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		imageData, err = os.ReadFile(opts.filePath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read file %s: %w", opts.filePath, err)
		}
	}

	if len(imageData) == 0 {
		return nil, "", fmt.Errorf("input file is empty")
	}
	if len(imageData) > maxFileSize {
		return nil, "", fmt.Errorf("input file exceeds maximum size of %d MB", maxFileSizeMB)
	}
	if err := validatePNG(imageData); err != nil {
		return nil, "", err
	}

	img, err := png.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode PNG: %w", err)
	}

	capture := func(region screenshot.Region) (image.Image, error) {
		return img, nil
	}
	return capture, opts.filePath, nil
}

func validatePNG(data []byte) error {
	if len(data) < 8 || !bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}) {
		return fmt.Errorf("input is not a valid PNG file (invalid magic number)")
	}
	return nil
}

// parseRegion parses "x,y,WxH", e.g. "100,200,640x480".
func parseRegion(s string) (screenshot.Region, error) {
	var region screenshot.Region

	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return region, fmt.Errorf("invalid region %q: want 'x,y,WxH'", s)
	}

	x, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return region, fmt.Errorf("invalid region x %q: %w", parts[0], err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return region, fmt.Errorf("invalid region y %q: %w", parts[1], err)
	}

	dims := strings.Split(strings.TrimSpace(parts[2]), "x")
	if len(dims) != 2 {
		return region, fmt.Errorf("invalid region size %q: want 'WxH'", parts[2])
	}
	w, err := strconv.Atoi(dims[0])
	if err != nil {
		return region, fmt.Errorf("invalid region width %q: %w", dims[0], err)
	}
	h, err := strconv.Atoi(dims[1])
	if err != nil {
		return region, fmt.Errorf("invalid region height %q: %w", dims[1], err)
	}
	if w <= 0 || h <= 0 {
		return region, fmt.Errorf("region dimensions must be positive, got %dx%d", w, h)
	}

	region = screenshot.Region{X: x, Y: y, Width: w, Height: h}
	return region, nil
}

// drainEvents consumes the orchestrator stream until the terminal event,
// printing stage progress when verbose.
func drainEvents(orch *pipeline.Orchestrator, verbose bool) (*pipeline.Result, pipeline.State, error) {
	for ev := range orch.Events() {
		if verbose && ev.Stage != "" && !ev.State.Terminal() {
			fmt.Fprintf(os.Stderr, "[verbose] Stage %s done, state now %s\n", ev.Stage, ev.State)
		}
		if ev.State.Terminal() {
			return ev.Result, ev.State, ev.Err
		}
	}
	return nil, pipeline.StateAborted, fmt.Errorf("event stream closed before terminal event")
}

type explainFragment struct {
	Text       string  `json:"text"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
}

type explainResult struct {
	Text      string            `json:"text"`
	State     string            `json:"state"`
	Source    string            `json:"source"`
	Caption   string            `json:"caption"`
	Fragments []explainFragment `json:"fragments"`
	Errors    []string          `json:"errors,omitempty"`
	Timestamp string            `json:"timestamp"`
	Duration  float64           `json:"duration_seconds"`
	CharCount int               `json:"character_count"`
}

func outputResult(res *pipeline.Result, source, state string, elapsed time.Duration, jsonOutput bool) error {
	if !jsonOutput {
		if res.FinalText != "" {
			fmt.Println(res.FinalText)
		}
		for _, se := range res.StageErrors {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", se)
		}
		return nil
	}

	out := explainResult{
		Text:      res.FinalText,
		State:     state,
		Source:    source,
		Caption:   res.Caption.Text,
		Fragments: make([]explainFragment, 0, len(res.Fragments)),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Duration:  elapsed.Seconds(),
		CharCount: len(res.FinalText),
	}
	for _, f := range res.Fragments {
		out.Fragments = append(out.Fragments, explainFragment{
			Text:       f.Text,
			X:          f.Box.Min.X,
			Y:          f.Box.Min.Y,
			Width:      f.Box.Dx(),
			Height:     f.Box.Dy(),
			Confidence: f.Confidence,
			Language:   f.Language,
		})
	}
	for _, se := range res.StageErrors {
		out.Errors = append(out.Errors, se.Error())
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(out); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}
