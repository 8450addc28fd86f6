package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Family string `yaml:"family" validate:"omitempty,family"`

	Pipeline struct {
		Dir       string `yaml:"dir" validate:"required"`
		Proposals string `yaml:"proposals" validate:"required"`
		Approvals string `yaml:"approvals" validate:"required"`
		Patches   string `yaml:"patches" validate:"required"`
	} `yaml:"pipeline"`

	Document struct {
		Source string `yaml:"source"`
		// LearnHeadings feeds the source document's colon-terminated paragraphs to the
		// compiler so section names normalize to the exact heading text.
		LearnHeadings bool `yaml:"learn_headings"`
	} `yaml:"document"`

	Output struct {
		Dir  string `yaml:"dir" validate:"required"`
		Name string `yaml:"name"`
		// Overwrite lets the one-shot run replace an existing output, like --force.
		Overwrite bool `yaml:"overwrite"`
	} `yaml:"output"`

	Aliases struct {
		Path string `yaml:"path"`
	} `yaml:"aliases"`

	Policy struct {
		BannedMarkers []string `yaml:"banned_markers"`
	} `yaml:"policy"`

	Ledger struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"ledger"`

	History struct {
		Enabled bool   `yaml:"enabled"`
		Author  string `yaml:"author"`
	} `yaml:"history"`

	Log struct {
		Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
}

var familyPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("family", func(fl validator.FieldLevel) bool {
		return familyPattern.MatchString(fl.Field().String())
	})
	return v
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Pipeline.Dir = "pipeline"
	cfg.Pipeline.Proposals = "proposed-changes.md"
	cfg.Pipeline.Approvals = "approvals.json"
	cfg.Pipeline.Patches = "patches.json"
	cfg.Document.LearnHeadings = true
	cfg.Output.Dir = "out"
	cfg.Aliases.Path = "section-aliases.json"
	cfg.Ledger.Enabled = true
	cfg.Ledger.Path = ".docpatch/builds.db"
	cfg.Log.Level = "info"
	return &cfg
}

func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	// 2. Load YAML config over the defaults
	cfg := Default()
	if path != "" {
		file, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(file, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	// 3. Override with Environment Variables if present
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"DOCPATCH_FAMILY":       &cfg.Family,
		"DOCPATCH_PIPELINE_DIR": &cfg.Pipeline.Dir,
		"DOCPATCH_DOCUMENT":     &cfg.Document.Source,
		"DOCPATCH_OUTPUT_DIR":   &cfg.Output.Dir,
		"DOCPATCH_ALIASES":      &cfg.Aliases.Path,
		"DOCPATCH_DB_PATH":      &cfg.Ledger.Path,
		"DOCPATCH_LOG_LEVEL":    &cfg.Log.Level,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"DOCPATCH_GIT_HISTORY": &cfg.History.Enabled,
		"DOCPATCH_LEDGER":      &cfg.Ledger.Enabled,
		"DOCPATCH_OVERWRITE":   &cfg.Output.Overwrite,
	}
	for key, dst := range bools {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
	}
	return nil
}

func (c *Config) Validate() error {
	c.Family = strings.ToLower(strings.TrimSpace(c.Family))
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) pipelinePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Pipeline.Dir, name)
}

func (c *Config) ProposalsPath() string { return c.pipelinePath(c.Pipeline.Proposals) }
func (c *Config) ApprovalsPath() string { return c.pipelinePath(c.Pipeline.Approvals) }
func (c *Config) PatchesPath() string   { return c.pipelinePath(c.Pipeline.Patches) }

// OutputPath is where the built document goes: Output.Name, or the source file's name.
func (c *Config) OutputPath() string {
	name := c.Output.Name
	if name == "" {
		name = filepath.Base(c.Document.Source)
	}
	return filepath.Join(c.Output.Dir, name)
}

// MetaPath sits next to the output document.
func (c *Config) MetaPath() string {
	out := c.OutputPath()
	return strings.TrimSuffix(out, filepath.Ext(out)) + ".meta.json"
}
