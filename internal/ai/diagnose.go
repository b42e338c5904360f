package ai

import (
	"context"
	"fmt"
	"strings"

	"forager/internal/types"
)

const diagnoseSystemPrompt = `You are a senior Go engineer specializing in debugging data-source plugins.

Analyze the error context and determine:
1. Root cause of the failure
2. Whether this is fixable via code patch or requires a full rebuild
3. Specific fix suggestion

Common failure patterns:
- selector not found: page structure changed, extraction paths need updating
- timeout: site blocking or slow, needs retry logic or a different approach
- unexpected JSON shape: API response structure changed
- parse error: extraction logic no longer matches the payload
- connection refused/reset: network issues or site down (usually temporary)

Respond in JSON:
{
  "root_cause": "brief description of what went wrong",
  "fix_strategy": "patch" or "rebuild",
  "suggested_fix": "specific code changes or approach",
  "confidence": 0.0-1.0
}`

// diagnosisVerdict is the wire shape of the oracle's diagnosis output.
type diagnosisVerdict struct {
	RootCause    string  `json:"root_cause"`
	FixStrategy  string  `json:"fix_strategy"`
	SuggestedFix string  `json:"suggested_fix"`
	Confidence   float64 `json:"confidence"`
}

// Diagnose asks the oracle for a structured verdict on a failure,
// grounding the prompt in prior lessons. An oracle failure or
// unparseable verdict yields a zero-confidence diagnosis, never an
// error: the caller aborts on low confidence instead of crashing.
func (o *Oracle) Diagnose(ctx context.Context, dc *types.DiagnosisContext, lessons []*types.Lesson) *types.Diagnosis {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Error Context:\n")
	fmt.Fprintf(&sb, "- Source: %s\n", dc.SourceName)
	fmt.Fprintf(&sb, "- Error Type: %s\n", dc.ErrorType)
	fmt.Fprintf(&sb, "- Error Message: %s\n", dc.ErrorMessage)
	fmt.Fprintf(&sb, "- Consecutive Failures: %d\n", dc.FailureStreak)
	fmt.Fprintf(&sb, "- Fix Attempts Today: %d\n", dc.FixAttemptsToday)
	fmt.Fprintf(&sb, "- Quarantined: %v\n\n", dc.IsQuarantined)

	if dc.CurrentCode != "" {
		fmt.Fprintf(&sb, "Current Code:\n```go\n%s\n```\n\n", dc.CurrentCode)
	} else {
		sb.WriteString("Current code is not available.\n\n")
	}

	if dc.ContentChanged {
		sb.WriteString("Upstream content changed since the last successful run.\n")
	} else if dc.PreviousHash != "" {
		sb.WriteString("Upstream content matches the last successful run, or no fresh sample was available.\n")
	} else {
		sb.WriteString("No previous content hash for comparison.\n")
	}

	if len(lessons) > 0 {
		sb.WriteString("\nRelevant past lessons:\n")
		for _, l := range lessons {
			fmt.Fprintf(&sb, "- %s -> %s (proven %dx)\n", l.SymptomDescription, l.FixStrategy, l.SuccessCount)
		}
	}

	sb.WriteString("\nDiagnose the issue and provide a fix strategy.")

	failed := func(reason string) *types.Diagnosis {
		return &types.Diagnosis{
			SourceName:   dc.SourceName,
			ErrorType:    dc.ErrorType,
			RootCause:    reason,
			SuggestedFix: "manual intervention required",
			Confidence:   0,
			FixStrategy:  "patch",
		}
	}

	raw, err := o.Complete(ctx, diagnoseSystemPrompt, sb.String(), 2048)
	if err != nil {
		return failed(fmt.Sprintf("diagnosis failed: %v", err))
	}

	verdict, err := ParseJSON[diagnosisVerdict](raw)
	if err != nil {
		return failed(fmt.Sprintf("diagnosis unparseable: %v", err))
	}

	strategy := verdict.FixStrategy
	if strategy != "rebuild" {
		strategy = "patch"
	}
	confidence := verdict.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &types.Diagnosis{
		SourceName:   dc.SourceName,
		ErrorType:    dc.ErrorType,
		RootCause:    verdict.RootCause,
		SuggestedFix: verdict.SuggestedFix,
		Confidence:   confidence,
		FixStrategy:  strategy,
	}
}

const patchSystemPrompt = `You are a senior Go engineer fixing a data-source plugin.

Apply the suggested fix to the code. Return ONLY the complete fixed Go source file.
Do not include markdown code fences. Do not explain.

Important:
- Preserve all imports and the overall structure
- Only modify what is necessary to fix the issue
- Keep the Fetch and Parse functions with their existing signatures`

// GeneratePatch asks the generator to apply a diagnosis to the current
// code. The returned text is raw source; syntactic validation is the
// caller's responsibility.
func (o *Oracle) GeneratePatch(ctx context.Context, d *types.Diagnosis, dc *types.DiagnosisContext) (string, error) {
	if dc.CurrentCode == "" {
		return "", fmt.Errorf("cannot generate patch: no current code available")
	}

	prompt := fmt.Sprintf(`Current Code:
%s

Error: %s: %s

Root Cause: %s

Suggested Fix: %s

Apply the fix and return the complete corrected source file.`,
		dc.CurrentCode, d.ErrorType, dc.ErrorMessage, d.RootCause, d.SuggestedFix)

	raw, err := o.Complete(ctx, patchSystemPrompt, prompt, 8192)
	if err != nil {
		return "", fmt.Errorf("patch generation failed: %w", err)
	}
	return StripFences(raw), nil
}

const lessonSystemPrompt = `You are a senior engineer distilling lessons from a fixed bug.

Analyze the error, the diagnosis, and the successful patch.
Extract a generalized lesson that could help future debugging.

Output JSON:
{
  "domain_pattern": "e.g. 'paginated_html' or 'json_api'",
  "symptom_description": "when seeing X error with Y context",
  "fix_strategy": "try approach Z"
}`

// DistillLesson asks the oracle to generalize a successful fix into a
// reusable lesson. Best-effort: errors are returned but callers treat
// them as non-fatal.
func (o *Oracle) DistillLesson(ctx context.Context, dc *types.DiagnosisContext, d *types.Diagnosis, patchLen int) (*types.Lesson, error) {
	prompt := fmt.Sprintf(`Error: %s: %s
Root Cause: %s
Fix Applied: %s
Patch size: %d chars

Extract a generalized lesson.`,
		dc.ErrorType, dc.ErrorMessage, d.RootCause, d.SuggestedFix, patchLen)

	raw, err := o.Complete(ctx, lessonSystemPrompt, prompt, 1024)
	if err != nil {
		return nil, fmt.Errorf("lesson distillation failed: %w", err)
	}

	draft, err := ParseJSON[struct {
		DomainPattern      string `json:"domain_pattern"`
		SymptomDescription string `json:"symptom_description"`
		FixStrategy        string `json:"fix_strategy"`
	}](raw)
	if err != nil {
		return nil, fmt.Errorf("lesson unparseable: %w", err)
	}

	pattern := draft.DomainPattern
	if pattern == "" {
		pattern = dc.SourceName
	}
	return &types.Lesson{
		ErrorType:          dc.ErrorType,
		DomainPattern:      pattern,
		SymptomDescription: draft.SymptomDescription,
		FixStrategy:        draft.FixStrategy,
		SuccessCount:       1,
	}, nil
}

// StripFences removes any markdown code fences wrapping generated
// source text.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
