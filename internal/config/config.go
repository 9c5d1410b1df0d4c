package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the config file looked up in the working directory.
const DefaultConfigFile = "cbdistill.yaml"

// TeacherModel identifies a pretrained HuBERT checkpoint.
type TeacherModel string

const (
	HubertXtraLarge TeacherModel = "hubert_xtralarge_ll60k_finetune_ls960"
	HubertLarge     TeacherModel = "hubert_large_ll60k_finetune_ls960"
)

// Valid reports whether m is one of the known teacher checkpoints.
func (m TeacherModel) Valid() bool {
	switch m {
	case HubertXtraLarge, HubertLarge:
		return true
	}
	return false
}

// DecodingMethods lists the decoding methods accepted by decode.py.
var DecodingMethods = []string{
	"greedy_search",
	"beam_search",
	"modified_beam_search",
	"fast_beam_search",
}

// Paths groups the filesystem locations a run reads and writes.
// Relative paths are resolved against Root.
type Paths struct {
	Root        string `yaml:"root"`
	RecipeDir   string `yaml:"recipe_dir"`
	ExpDir      string `yaml:"exp_dir"`
	DataDir     string `yaml:"data_dir"`
	DownloadDir string `yaml:"download_dir"`
	Python      string `yaml:"python"`
}

// Remote holds the fixed remote locations artifacts are fetched from.
type Remote struct {
	ModelBaseURL     string `yaml:"model_base_url"`
	DictURL          string `yaml:"dict_url"`
	CodebookRepo     string `yaml:"codebook_repo"`
	CodebookVersion  string `yaml:"codebook_version"`
	CodebookSplits   int    `yaml:"codebook_splits"`
	MinLhotseVersion string `yaml:"min_lhotse_version"`
}

// ExtractConfig parameterizes codebook index extraction.
type ExtractConfig struct {
	NumUtts     int `yaml:"num_utts"`
	MaxDuration int `yaml:"max_duration"`
}

// VerifyConfig parameterizes the sanity decode of the teacher model.
type VerifyConfig struct {
	Subsets     []string `yaml:"subsets"`
	MaxDuration int      `yaml:"max_duration"`
}

// TrainConfig is forwarded to train.py.
type TrainConfig struct {
	MaxDuration           int     `yaml:"max_duration"`
	NumEpochs             int     `yaml:"num_epochs"`
	MasterPort            int     `yaml:"master_port"`
	CodebookLossScale     float64 `yaml:"codebook_loss_scale"`
	SpecAugTimeWarpFactor int     `yaml:"spec_aug_time_warp_factor"`
}

// DecodeConfig is forwarded to decode.py.
type DecodeConfig struct {
	Method      string   `yaml:"method"`
	Epoch       int      `yaml:"epoch"`
	Avg         int      `yaml:"avg"`
	MaxDuration int      `yaml:"max_duration"`
	TestSets    []string `yaml:"test_sets"`
}

// Config is the in-memory representation of cbdistill.yaml.
type Config struct {
	Stage                int          `yaml:"stage"`
	StopStage            int          `yaml:"stop_stage"`
	FullLibri            bool         `yaml:"full_libri"`
	UseExtractedCodebook bool         `yaml:"use_extracted_codebook"`
	SkipVerify           bool         `yaml:"skip_verify"`
	TeacherModelID       TeacherModel `yaml:"teacher_model_id"`
	EmbeddingLayer       int          `yaml:"embedding_layer"`
	NumCodebooks         int          `yaml:"num_codebooks"`

	Paths   Paths         `yaml:"paths"`
	Remote  Remote        `yaml:"remote"`
	Extract ExtractConfig `yaml:"extract"`
	Verify  VerifyConfig  `yaml:"verify"`
	Train   TrainConfig   `yaml:"train"`
	Decode  DecodeConfig  `yaml:"decode"`
}

// Default returns the configuration of the reference LibriSpeech recipe.
func Default() *Config {
	return &Config{
		Stage:                0,
		StopStage:            4,
		FullLibri:            false,
		UseExtractedCodebook: true,
		TeacherModelID:       HubertXtraLarge,
		EmbeddingLayer:       36,
		NumCodebooks:         8,
		Paths: Paths{
			Root:        ".",
			RecipeDir:   "pruned_transducer_stateless6",
			ExpDir:      filepath.Join("pruned_transducer_stateless6", "exp"),
			DataDir:     "data",
			DownloadDir: "download",
			Python:      "python3",
		},
		Remote: Remote{
			ModelBaseURL:     "https://dl.fbaipublicfiles.com/hubert",
			DictURL:          "https://dl.fbaipublicfiles.com/fairseq/wav2vec/dict.ltr.txt",
			CodebookRepo:     "https://huggingface.co/marcoyang/LibriSpeech_codebook",
			CodebookVersion:  "LibriSpeech_codebook",
			CodebookSplits:   4,
			MinLhotseVersion: "1.11.0",
		},
		Extract: ExtractConfig{
			NumUtts:     1000,
			MaxDuration: 100,
		},
		Verify: VerifyConfig{
			Subsets:     []string{"test-clean", "test-other"},
			MaxDuration: 100,
		},
		Train: TrainConfig{
			MaxDuration:           300,
			NumEpochs:             20,
			MasterPort:            12359,
			CodebookLossScale:     0.01,
			SpecAugTimeWarpFactor: -1,
		},
		Decode: DecodeConfig{
			Method:      "modified_beam_search",
			Epoch:       20,
			Avg:         10,
			MaxDuration: 200,
			TestSets:    []string{"test-clean", "test-other"},
		},
	}
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}

// Load reads and parses a YAML config file. Missing fields keep their
// defaults; a missing file yields Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	cfg.Paths.Root, err = ExpandPath(cfg.Paths.Root)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save marshals cfg and writes it to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Stage < 0 {
		return fmt.Errorf("stage must be >= 0, got %d", c.Stage)
	}
	if c.StopStage < c.Stage {
		return fmt.Errorf("stop_stage (%d) must be >= stage (%d)", c.StopStage, c.Stage)
	}
	if !c.TeacherModelID.Valid() {
		return fmt.Errorf("teacher_model_id must be %q or %q, got %q", HubertXtraLarge, HubertLarge, c.TeacherModelID)
	}
	if c.EmbeddingLayer <= 0 {
		return fmt.Errorf("embedding_layer must be > 0")
	}
	if c.NumCodebooks <= 0 {
		return fmt.Errorf("num_codebooks must be > 0")
	}

	for name, v := range map[string]string{
		"paths.root":       c.Paths.Root,
		"paths.recipe_dir": c.Paths.RecipeDir,
		"paths.exp_dir":    c.Paths.ExpDir,
		"paths.data_dir":   c.Paths.DataDir,
		"paths.python":     c.Paths.Python,
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
	}

	if c.Extract.NumUtts <= 0 || c.Extract.MaxDuration <= 0 {
		return fmt.Errorf("extract.num_utts and extract.max_duration must be > 0")
	}
	if c.Train.MaxDuration <= 0 || c.Train.NumEpochs <= 0 {
		return fmt.Errorf("train.max_duration and train.num_epochs must be > 0")
	}
	if c.Decode.Epoch <= 0 || c.Decode.Avg <= 0 || c.Decode.MaxDuration <= 0 {
		return fmt.Errorf("decode.epoch, decode.avg and decode.max_duration must be > 0")
	}
	if c.Decode.Avg > c.Decode.Epoch {
		return fmt.Errorf("decode.avg (%d) must not exceed decode.epoch (%d)", c.Decode.Avg, c.Decode.Epoch)
	}
	if !validDecodingMethod(c.Decode.Method) {
		return fmt.Errorf("decode.method must be one of %s, got %q", strings.Join(DecodingMethods, ", "), c.Decode.Method)
	}
	if c.UseExtractedCodebook {
		if c.Remote.CodebookRepo == "" || c.Remote.CodebookVersion == "" {
			return fmt.Errorf("remote.codebook_repo and remote.codebook_version are required in download mode")
		}
		if c.Remote.CodebookSplits <= 0 {
			return fmt.Errorf("remote.codebook_splits must be > 0")
		}
	}
	return nil
}

func validDecodingMethod(m string) bool {
	for _, v := range DecodingMethods {
		if v == m {
			return true
		}
	}
	return false
}
