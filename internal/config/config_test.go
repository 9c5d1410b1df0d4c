package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TeacherModelID != HubertXtraLarge || cfg.StopStage != 4 || !cfg.UseExtractedCodebook {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoad_PartialOverridesKeepDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cbdistill.yaml")
	body := `stage: 2
stop_stage: 3
use_extracted_codebook: false
teacher_model_id: hubert_large_ll60k_finetune_ls960
train:
  num_epochs: 30
`
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stage != 2 || cfg.StopStage != 3 {
		t.Errorf("stage range = [%d,%d], want [2,3]", cfg.Stage, cfg.StopStage)
	}
	if cfg.UseExtractedCodebook {
		t.Error("use_extracted_codebook should be false")
	}
	if cfg.TeacherModelID != HubertLarge {
		t.Errorf("teacher = %q", cfg.TeacherModelID)
	}
	if cfg.Train.NumEpochs != 30 {
		t.Errorf("num_epochs = %d, want 30", cfg.Train.NumEpochs)
	}
	if cfg.Train.MaxDuration != 300 {
		t.Errorf("max_duration = %d, want default 300", cfg.Train.MaxDuration)
	}
	if cfg.Decode.Method != "modified_beam_search" {
		t.Errorf("decode.method = %q", cfg.Decode.Method)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(p, []byte("stage: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(p); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sub", "cbdistill.yaml")
	cfg := Default()
	cfg.FullLibri = true
	cfg.NumCodebooks = 16
	if err := Save(p, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.FullLibri || got.NumCodebooks != 16 {
		t.Errorf("round trip lost values: %+v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative stage", func(c *Config) { c.Stage = -1 }},
		{"stop before start", func(c *Config) { c.Stage, c.StopStage = 3, 2 }},
		{"unknown teacher", func(c *Config) { c.TeacherModelID = "wav2vec2_base" }},
		{"zero codebooks", func(c *Config) { c.NumCodebooks = 0 }},
		{"empty exp dir", func(c *Config) { c.Paths.ExpDir = " " }},
		{"unknown decoding method", func(c *Config) { c.Decode.Method = "ctc" }},
		{"avg exceeds epoch", func(c *Config) { c.Decode.Avg = 30 }},
		{"zero codebook splits", func(c *Config) { c.Remote.CodebookSplits = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() = nil, want error")
			}
		})
	}
}

func TestWorkerCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"0,1,2,3", 4},
		{"0", 1},
		{"", 1},
		{"0,1,", 2},
		{" 4 , 5 ", 2},
	}
	for _, tt := range tests {
		if got := WorkerCount(tt.in); got != tt.want {
			t.Errorf("WorkerCount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	env := func(devices string) func(string) string {
		return func(k string) string {
			if k == DevicesEnv {
				return devices
			}
			return ""
		}
	}

	t.Run("download mode pins codebook setup", func(t *testing.T) {
		cfg := Default()
		cfg.EmbeddingLayer = 18
		cfg.NumCodebooks = 16
		run, notes, err := Resolve(cfg, env("0,1,2,3"))
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if run.Source != SourceDownload {
			t.Errorf("source = %v", run.Source)
		}
		if run.EmbeddingLayer != 36 || run.NumCodebooks != 8 {
			t.Errorf("layer/cb = %d/%d, want 36/8", run.EmbeddingLayer, run.NumCodebooks)
		}
		if len(notes) != 1 {
			t.Errorf("notes = %v, want one override note", notes)
		}
		if run.Workers != 4 {
			t.Errorf("workers = %d, want 4", run.Workers)
		}
		if cfg.EmbeddingLayer != 18 {
			t.Error("Resolve must not modify its input")
		}
	})

	t.Run("compute mode keeps codebook setup", func(t *testing.T) {
		cfg := Default()
		cfg.UseExtractedCodebook = false
		cfg.EmbeddingLayer = 18
		run, notes, err := Resolve(cfg, env("0"))
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if run.Source != SourceCompute || run.EmbeddingLayer != 18 || len(notes) != 0 {
			t.Errorf("unexpected run: %+v notes=%v", run, notes)
		}
		if run.Workers != 1 {
			t.Errorf("workers = %d, want 1", run.Workers)
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := Default()
		cfg.TeacherModelID = "nope"
		if _, _, err := Resolve(cfg, env("")); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestTrainSubsets(t *testing.T) {
	run := &Run{Config: *Default()}
	if got := run.TrainSubsets(); len(got) != 1 || got[0] != "train-clean-100" {
		t.Errorf("TrainSubsets() = %v", got)
	}
	run.FullLibri = true
	if got := run.TrainSubsets(); len(got) != 3 {
		t.Errorf("TrainSubsets() full = %v", got)
	}
}
