package orchestrator

import (
	"github.com/sells-group/intent-cli/internal/assign"
	"github.com/sells-group/intent-cli/internal/config"
	"github.com/sells-group/intent-cli/internal/llm"
	"github.com/sells-group/intent-cli/internal/prompt"
)

// Options are the per-run parameters of the pipeline.
type Options struct {
	Threshold        int
	Fallback         int
	ChunkSize        int
	ChunkParallelism int
	Workers          int
	MaxConversations int
	Seed             uint64
	MinWords         int
	MaxWords         int

	Model           string
	MaxTokens       int64
	AssignMaxTokens int64
	Temperature     float64
	TopP            float64

	BaseDir   string
	Templates prompt.Templates
}

// DefaultOptions returns the built-in run parameters.
func DefaultOptions() Options {
	return Options{
		Threshold:        4,
		Fallback:         3,
		ChunkSize:        assign.DefaultChunkSize,
		ChunkParallelism: 1,
		Workers:          10,
		MaxConversations: 10000,
		Seed:             42,
		MinWords:         5,
		MaxWords:         10,
		MaxTokens:        256,
		AssignMaxTokens:  4096,
		Temperature:      llm.UnsetTemperature,
		BaseDir:          "runs",
		Templates:        prompt.Defaults(),
	}
}

// OptionsFromConfig builds run parameters from loaded configuration.
func OptionsFromConfig(cfg *config.Config, templates prompt.Templates) Options {
	p := cfg.Pipeline
	model := cfg.Anthropic.Model
	if cfg.Backend.Provider == "gemini" {
		model = cfg.Gemini.Model
	}
	return Options{
		Threshold:        p.AcceptThreshold,
		Fallback:         p.FallbackThreshold,
		ChunkSize:        p.ChunkSize,
		ChunkParallelism: p.ChunkParallelism,
		Workers:          p.Workers,
		MaxConversations: p.MaxConversations,
		Seed:             p.SampleSeed,
		MinWords:         p.MinWords,
		MaxWords:         p.MaxWords,
		Model:            model,
		MaxTokens:        cfg.Backend.MaxTokens,
		AssignMaxTokens:  cfg.Backend.AssignMaxTokens,
		Temperature:      cfg.Backend.Temperature,
		TopP:             cfg.Backend.TopP,
		BaseDir:          cfg.Artifacts.BaseDir,
		Templates:        templates,
	}
}

// Job is one discovery request. Zero-valued overrides keep the
// orchestrator's Options.
type Job struct {
	Input       string `json:"input"`
	Taxonomy    string `json:"taxonomy"`
	Company     string `json:"company_name"`
	Description string `json:"company_description"`

	MaxConversations int    `json:"max_calls,omitempty"`
	Threshold        int    `json:"threshold,omitempty"`
	ChunkSize        int    `json:"chunk_size,omitempty"`
	Workers          int    `json:"workers,omitempty"`
	PromptTemplate   string `json:"prompt_template,omitempty"`
}

// apply returns opts with the job's overrides.
func (j Job) apply(opts Options) Options {
	if j.MaxConversations > 0 {
		opts.MaxConversations = j.MaxConversations
	}
	if j.Threshold > 0 {
		opts.Threshold = j.Threshold
		if opts.Fallback > opts.Threshold {
			opts.Fallback = 0
		}
	}
	if j.ChunkSize > 0 {
		opts.ChunkSize = j.ChunkSize
	}
	if j.Workers > 0 {
		opts.Workers = j.Workers
	}
	if j.PromptTemplate != "" {
		opts.Templates = opts.Templates.Merge(prompt.Templates{
			Extract: prompt.Template{User: j.PromptTemplate},
		})
	}
	return opts
}
