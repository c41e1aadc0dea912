// Package postprocess cleans captured text before it is uploaded.
package postprocess

import (
	"context"
	"fmt"
	"log/slog"
)

// Processor is a function that transforms text
type Processor func(ctx context.Context, text string) (string, error)

type stage struct {
	name string
	run  Processor
}

// Pipeline runs named stages in order
type Pipeline struct {
	stages []stage
}

// NewPipeline creates a pipeline from unnamed processors
func NewPipeline(processors ...Processor) *Pipeline {
	p := &Pipeline{}
	for i, proc := range processors {
		p.Add(fmt.Sprintf("stage-%d", i), proc)
	}
	return p
}

// Build returns the pipeline for one capture. Without clean only the
// replacement rules run, and with no rules the text passes through as captured.
func Build(rules *Rules, clean bool) *Pipeline {
	p := &Pipeline{}
	if clean {
		p.Add("newlines", NormalizeNewlines).
			Add("invisible", StripInvisible)
	}
	if rules.Len() > 0 {
		p.Add("rules", RulesProcessor(rules))
	}
	if clean {
		p.Add("trailing-space", TrimTrailingSpace).
			Add("blank-lines", CollapseBlankLines).
			Add("trim", TrimSpace)
	}
	return p
}

// Add appends a stage and returns the pipeline
func (p *Pipeline) Add(name string, proc Processor) *Pipeline {
	p.stages = append(p.stages, stage{name: name, run: proc})
	return p
}

// Stages returns the stage names in execution order
func (p *Pipeline) Stages() []string {
	if p == nil {
		return nil
	}
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.name
	}
	return names
}

// Process runs every stage. On error the text from the last successful
// stage is returned. A nil pipeline returns text unchanged.
func (p *Pipeline) Process(ctx context.Context, text string) (string, error) {
	if p == nil {
		return text, nil
	}

	for _, s := range p.stages {
		if err := ctx.Err(); err != nil {
			return text, err
		}
		out, err := s.run(ctx, text)
		if err != nil {
			slog.Error("Post-processing stage failed", "stage", s.name, "error", err)
			return text, fmt.Errorf("%s: %w", s.name, err)
		}
		if len(out) != len(text) {
			slog.Debug("Post-processing stage changed text", "stage", s.name, "before", len(text), "after", len(out))
		}
		text = out
	}

	return text, nil
}
