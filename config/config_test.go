package config

import (
	"os"
	"path/filepath"
	"testing"

	"screen-explain/logutil"
)

func TestLoad(t *testing.T) {
	os.Setenv("OPENROUTER_API_KEY", "test_api_key")
	os.Setenv("MODEL", "test_model")
	os.Setenv("CAPTION_MODEL", "test_caption_model")
	os.Setenv("LANGUAGES", "en, ch_tra")
	os.Setenv("CANDIDATE_IMAGES", "3")
	os.Setenv("SYNTH_DEADLINE_SEC", "30")
	os.Setenv("ENABLE_FILE_LOGGING", "true")
	os.Setenv("LOG_FILE", "/tmp/explain-test.log")

	defer func() {
		os.Unsetenv("OPENROUTER_API_KEY")
		os.Unsetenv("MODEL")
		os.Unsetenv("CAPTION_MODEL")
		os.Unsetenv("LANGUAGES")
		os.Unsetenv("CANDIDATE_IMAGES")
		os.Unsetenv("SYNTH_DEADLINE_SEC")
		os.Unsetenv("ENABLE_FILE_LOGGING")
		os.Unsetenv("LOG_FILE")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.APIKey != "test_api_key" {
		t.Errorf("Expected APIKey to be 'test_api_key', got '%s'", cfg.APIKey)
	}
	if cfg.Model != "test_model" {
		t.Errorf("Expected Model to be 'test_model', got '%s'", cfg.Model)
	}
	if cfg.CaptionModel != "test_caption_model" {
		t.Errorf("Expected CaptionModel to be 'test_caption_model', got '%s'", cfg.CaptionModel)
	}
	if len(cfg.Languages) != 2 || cfg.Languages[0] != "en" || cfg.Languages[1] != "ch_tra" {
		t.Errorf("Expected Languages [en ch_tra], got %v", cfg.Languages)
	}
	if cfg.Candidates != 3 {
		t.Errorf("Expected Candidates to be 3, got %d", cfg.Candidates)
	}
	if cfg.SynthDeadlineSec != 30 {
		t.Errorf("Expected SynthDeadlineSec to be 30, got %d", cfg.SynthDeadlineSec)
	}
	if !cfg.EnableFileLogging {
		t.Errorf("Expected EnableFileLogging to be true, got %v", cfg.EnableFileLogging)
	}
	if cfg.LogFile != "/tmp/explain-test.log" {
		t.Errorf("Expected LogFile '/tmp/explain-test.log', got '%s'", cfg.LogFile)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"LANGUAGES", "CANDIDATE_IMAGES", "SYNTH_DEADLINE_SEC", "ENABLE_FILE_LOGGING", "LOG_FILE"} {
		os.Unsetenv(k)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	if len(cfg.Languages) != 1 || cfg.Languages[0] != "en" {
		t.Errorf("Expected default language set [en], got %v", cfg.Languages)
	}
	if cfg.Candidates != 1 {
		t.Errorf("Expected default candidate count 1, got %d", cfg.Candidates)
	}
	if cfg.SynthDeadlineSec != 45 {
		t.Errorf("Expected default synthesis deadline 45, got %d", cfg.SynthDeadlineSec)
	}
	if cfg.EnableFileLogging {
		t.Error("Expected file logging to default off")
	}
	if cfg.LogFile != logutil.DefaultLogFile {
		t.Errorf("Expected default log file %s, got '%s'", logutil.DefaultLogFile, cfg.LogFile)
	}
}

func TestLoadBadNumericValues(t *testing.T) {
	os.Setenv("CANDIDATE_IMAGES", "zero")
	os.Setenv("SYNTH_DEADLINE_SEC", "-3")
	defer func() {
		os.Unsetenv("CANDIDATE_IMAGES")
		os.Unsetenv("SYNTH_DEADLINE_SEC")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Candidates != 1 {
		t.Errorf("bad CANDIDATE_IMAGES should fall back to 1, got %d", cfg.Candidates)
	}
	if cfg.SynthDeadlineSec != 45 {
		t.Errorf("bad SYNTH_DEADLINE_SEC should fall back to 45, got %d", cfg.SynthDeadlineSec)
	}
}

func TestAPIKeyFileTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key")
	if err := os.WriteFile(keyFile, []byte("file_key\n"), 0600); err != nil {
		t.Fatal(err)
	}

	os.Setenv("OPENROUTER_API_KEY", "env_key")
	defer os.Unsetenv("OPENROUTER_API_KEY")

	cfg, err := LoadWithOptions(LoadOptions{APIKeyPathOverride: keyFile})
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.APIKey != "file_key" {
		t.Errorf("Expected key file to win, got '%s'", cfg.APIKey)
	}
	if cfg.APIKeyPath != keyFile {
		t.Errorf("Expected APIKeyPath %s, got %s", keyFile, cfg.APIKeyPath)
	}
}
