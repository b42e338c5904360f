package ai

import (
	"context"
	"fmt"

	"forager/internal/types"
)

const analyzeSystemPrompt = `You are a data-source analyst. Given a URL and a sample of its
content, produce an extraction blueprint.

Respond in JSON:
{
  "source_name": "snake_case name derived from the host",
  "url": "the canonical URL to fetch",
  "strategy": "html_table" | "html_list" | "json_api",
  "fields": ["field_one", "field_two"],
  "selectors": {"field_one": "css or json path hint"}
}`

// Analyze inspects a target endpoint and produces a structured
// extraction blueprint.
func (o *Oracle) Analyze(ctx context.Context, name, url, sample string) (*types.Blueprint, error) {
	prompt := fmt.Sprintf("Source name hint: %s\nURL: %s\n\nContent sample:\n%s\n\nProduce the extraction blueprint.",
		name, url, snippet(sample, 8000))

	raw, err := o.Complete(ctx, analyzeSystemPrompt, prompt, 2048)
	if err != nil {
		return nil, fmt.Errorf("analysis failed: %w", err)
	}

	bp, err := ParseJSON[types.Blueprint](raw)
	if err != nil {
		return nil, fmt.Errorf("blueprint unparseable: %w", err)
	}
	if bp.SourceName == "" && name != "" {
		bp.SourceName = name
	}
	if bp.URL == "" {
		bp.URL = url
	}
	if err := bp.Validate(); err != nil {
		return nil, fmt.Errorf("incomplete blueprint: %w", err)
	}
	return &bp, nil
}

const generateSystemPrompt = `You are a senior Go engineer generating a data-source plugin.

The plugin is a single Go file, package main, interpreted at runtime.
It must use only the standard library and define exactly these two
functions:

    // Fetch returns the raw payload for the source.
    func Fetch() (string, error)

    // Parse extracts records from the payload. Each record maps field
    // names to string values.
    func Parse(payload string) ([]map[string]string, error)

Return ONLY the complete Go source file. No markdown fences, no
explanation.`

// GeneratePlugin turns a blueprint into plugin source text implementing
// the registry contract. The output is unvalidated; staging and
// validation happen downstream.
func (o *Oracle) GeneratePlugin(ctx context.Context, bp *types.Blueprint) (string, error) {
	prompt := fmt.Sprintf(`Blueprint:
- source_name: %s
- url: %s
- strategy: %s
- fields: %v
- selectors: %v

Generate the plugin source file.`,
		bp.SourceName, bp.URL, bp.Strategy, bp.Fields, bp.Selectors)

	raw, err := o.Complete(ctx, generateSystemPrompt, prompt, 8192)
	if err != nil {
		return "", fmt.Errorf("plugin generation failed: %w", err)
	}
	return StripFences(raw), nil
}
