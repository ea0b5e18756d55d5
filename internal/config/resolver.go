// Package config resolves stashsift settings from, in rising precedence,
// the YAML config file, STASHSIFT_* environment variables, and CLI flags.
// Every resolved value remembers where it came from.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stashsift/stashsift/internal/rank"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath string
	CLIDBPath  string
	CLISynonym string
	CLILimit   string
	CLIDebug   bool
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath       ResolvedValue `json:"db_path"`
	SynonymPath  ResolvedValue `json:"synonym_path"`
	HalfLifeDays ResolvedValue `json:"half_life_days"`
	DefaultLimit ResolvedValue `json:"default_limit"`
	FuzzyFold    ResolvedValue `json:"fuzzy_fold_threshold"`
	Debug        bool          `json:"debug"`

	Weights     rank.Weights `json:"weights"`
	WeightsFrom ValueSource  `json:"weights_from"`
}

type fileConfig struct {
	DBPath      string `yaml:"db_path"`
	SynonymPath string `yaml:"synonym_path"`
	Debug       bool   `yaml:"debug"`
	Ranking     struct {
		HalfLifeDays string        `yaml:"half_life_days"`
		DefaultLimit string        `yaml:"default_limit"`
		FuzzyFold    string        `yaml:"fuzzy_fold_threshold"`
		Weights      *rank.Weights `yaml:"weights"`
	} `yaml:"ranking"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".stashsift", "config.yaml")
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath:  path,
		Weights:     rank.DefaultWeights(),
		WeightsFrom: SourceDefault,
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.SynonymPath, cfg.SynonymPath, SourceConfig, path)
		apply(&out.HalfLifeDays, cfg.Ranking.HalfLifeDays, SourceConfig, path)
		apply(&out.DefaultLimit, cfg.Ranking.DefaultLimit, SourceConfig, path)
		apply(&out.FuzzyFold, cfg.Ranking.FuzzyFold, SourceConfig, path)
		if cfg.Debug {
			out.Debug = true
		}
		if cfg.Ranking.Weights != nil {
			if err := cfg.Ranking.Weights.Validate(); err != nil {
				return out, fmt.Errorf("invalid weights in %s: %w", path, err)
			}
			out.Weights = *cfg.Ranking.Weights
			out.WeightsFrom = SourceConfig
		}
	}

	applyEnv(&out.DBPath, "STASHSIFT_DB")
	applyEnv(&out.DBPath, "STASHSIFT_DB_PATH")
	applyEnv(&out.SynonymPath, "STASHSIFT_SYNONYMS")
	applyEnv(&out.HalfLifeDays, "STASHSIFT_HALF_LIFE_DAYS")
	applyEnv(&out.DefaultLimit, "STASHSIFT_DEFAULT_LIMIT")
	applyEnv(&out.FuzzyFold, "STASHSIFT_FUZZY_FOLD")
	if v := strings.TrimSpace(os.Getenv("STASHSIFT_DEBUG")); v != "" && v != "0" && !strings.EqualFold(v, "false") {
		out.Debug = true
	}

	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.SynonymPath, opts.CLISynonym, SourceCLI, "--synonyms")
	apply(&out.DefaultLimit, opts.CLILimit, SourceCLI, "--limit")
	if opts.CLIDebug {
		out.Debug = true
	}

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}
	if out.SynonymPath.Value != "" {
		out.SynonymPath.Value = expandUserPath(out.SynonymPath.Value)
	}

	return out, nil
}

// HalfLifeDaysValue parses the configured recency half-life, falling back to
// the built-in default on absence.
func (r ResolvedConfig) HalfLifeDaysValue() (float64, error) {
	v := strings.TrimSpace(r.HalfLifeDays.Value)
	if v == "" {
		return rank.DefaultHalfLife.Hours() / 24, nil
	}
	days, err := strconv.ParseFloat(v, 64)
	if err != nil || days <= 0 {
		return 0, fmt.Errorf("invalid half_life_days %q (from %s)", v, r.HalfLifeDays.From)
	}
	return days, nil
}

// DefaultLimitValue parses the configured default result cap.
func (r ResolvedConfig) DefaultLimitValue() (int, error) {
	v := strings.TrimSpace(r.DefaultLimit.Value)
	if v == "" {
		return rank.DefaultResultLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid default_limit %q (from %s)", v, r.DefaultLimit.From)
	}
	return n, nil
}

// FuzzyFoldValue parses the configured alias-folding similarity threshold.
func (r ResolvedConfig) FuzzyFoldValue() (float64, error) {
	v := strings.TrimSpace(r.FuzzyFold.Value)
	if v == "" {
		return 0, nil // zero means use the aggregator default
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 || f > 1 {
		return 0, fmt.Errorf("invalid fuzzy_fold_threshold %q (from %s)", v, r.FuzzyFold.From)
	}
	return f, nil
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
