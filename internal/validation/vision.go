package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"sitegrader/internal/ai"
	"sitegrader/internal/config"
	"sitegrader/internal/logging"
	"sitegrader/internal/types"
)

// autoSkipConfidence is the artifact pre-classifier confidence above which
// an issue is rejected without spending a vision call.
const autoSkipConfidence = 0.8

// CostSink receives model spend from validation calls.
type CostSink interface {
	Add(cost float64)
}

// visionVerdict is the JSON shape of the vision verification response.
type visionVerdict struct {
	Verified          bool    `json:"verified"`
	Confidence        float64 `json:"confidence"`
	Evidence          string  `json:"evidence"`
	PotentialArtifact bool    `json:"potential_artifact"`
	ArtifactType      string  `json:"artifact_type"`
	Reasoning         string  `json:"reasoning"`
}

// Validator verifies screenshot-referencing issues against the captures
// they cite. Issues without screenshot metadata are outside its remit and
// pass through untouched.
type Validator struct {
	caller  ai.Caller
	prompts *ai.Library
	cfg     config.ValidationConfig
	costs   CostSink
	log     *zap.SugaredLogger
}

// NewValidator creates a vision validator.
func NewValidator(caller ai.Caller, prompts *ai.Library, cfg config.ValidationConfig, costs CostSink) *Validator {
	return &Validator{
		caller:  caller,
		prompts: prompts,
		cfg:     cfg,
		costs:   costs,
		log:     logging.Get(logging.CategoryValidation),
	}
}

// Validate returns a filtered deep copy of the analysis result in which
// rejected issues are removed, plus a metadata block describing the pass.
// The input is never mutated. Any per-issue error counts the issue as
// verified: the validator must not drop real findings because it misbehaved.
func (v *Validator) Validate(ctx context.Context, result *types.AnalysisResult, screenshots types.ScreenshotIndex) (*types.AnalysisResult, error) {
	started := time.Now()

	out, err := deepCopy(result)
	if err != nil {
		return nil, fmt.Errorf("failed to copy analysis result: %w", err)
	}

	meta := &types.ValidationMetadata{
		Enabled:             true,
		ConfidenceThreshold: v.cfg.ConfidenceThreshold,
	}
	rejected := make(map[string]string) // issue id -> reason

	candidates := 0
	for _, issue := range out.Issues {
		if issue.Metadata == nil || len(issue.Metadata.ScreenshotNumbers) == 0 {
			continue
		}
		meta.TotalIssuesAnalyzed++
		if candidates >= v.cfg.MaxIssues {
			continue
		}
		candidates++
		meta.IssuesValidated++

		reason, ok := v.validateIssue(ctx, issue, screenshots, meta)
		if ok {
			meta.Verified++
			continue
		}
		meta.Rejected++
		rejected[issue.ID] = reason
		meta.RejectionSummary = append(meta.RejectionSummary, types.RejectionSummary{
			IssueID: issue.ID,
			Title:   issue.Title,
			Reason:  reason,
		})
	}

	if meta.IssuesValidated > 0 {
		meta.RejectionRate = float64(meta.Rejected) / float64(meta.IssuesValidated)
	}
	meta.DurationMs = time.Since(started).Milliseconds()

	out.Issues = dropRejected(out.Issues, rejected)
	out.TopIssues = dropRejected(out.TopIssues, rejected)
	for _, ar := range out.Analyzers {
		ar.Issues = dropRejected(ar.Issues, rejected)
	}
	out.Metadata.Validation = meta

	v.log.Infow("validation complete",
		"analyzed", meta.TotalIssuesAnalyzed, "validated", meta.IssuesValidated,
		"verified", meta.Verified, "rejected", meta.Rejected,
		"duration_ms", meta.DurationMs)
	return out, nil
}

// validateIssue returns (reason, verified). Errors anywhere return verified.
func (v *Validator) validateIssue(ctx context.Context, issue *types.Issue, screenshots types.ScreenshotIndex, meta *types.ValidationMetadata) (string, bool) {
	var keywords []string
	viewport := ""
	if issue.Metadata != nil {
		keywords = issue.Metadata.Keywords
		viewport = issue.Metadata.Viewport
	}

	verdict := DetectArtifact(issue.Title, issue.Description, issue.Category, keywords)
	if v.cfg.SkipArtifacts && verdict.IsPotentialArtifact && verdict.Confidence >= autoSkipConfidence {
		v.log.Debugw("artifact auto-rejected", "issue", issue.ID,
			"type", verdict.ArtifactType, "confidence", verdict.Confidence)
		return "artifact_detected: " + verdict.ArtifactType, false
	}

	images := v.loadEvidence(issue, screenshots)
	if len(images) == 0 {
		v.log.Warnw("no screenshot evidence available, treating as verified", "issue", issue.ID)
		return "", true
	}

	prompt, err := v.prompts.Load("vision-verify", map[string]string{
		"title":       issue.Title,
		"description": issue.Description,
		"page":        issue.Page,
		"viewport":    viewport,
	})
	if err != nil {
		return "", true
	}

	resp, err := v.caller.Call(ctx, ai.Request{
		Model:        prompt.Model,
		Temperature:  prompt.Temperature,
		SystemPrompt: prompt.SystemPrompt,
		UserPrompt:   prompt.UserPrompt,
		Images:       images,
		JSONMode:     true,
		Caller:       "vision-verify",
	})
	if err != nil {
		v.log.Warnw("vision call failed, treating as verified", "issue", issue.ID, "error", err)
		return "", true
	}
	if v.costs != nil {
		v.costs.Add(resp.Cost)
	}
	meta.Cost += resp.Cost

	raw, err := ai.ParseJSONResponse(resp.Content)
	if err != nil {
		v.log.Warnw("vision response unparseable, treating as verified", "issue", issue.ID, "error", err)
		return "", true
	}
	var vv visionVerdict
	if err := json.Unmarshal(raw, &vv); err != nil {
		v.log.Warnw("vision response malformed, treating as verified", "issue", issue.ID, "error", err)
		return "", true
	}

	if vv.Verified && vv.Confidence >= v.cfg.ConfidenceThreshold {
		return "", true
	}
	reason := vv.Reasoning
	if reason == "" {
		reason = fmt.Sprintf("not verified (confidence %.2f)", vv.Confidence)
	}
	if vv.PotentialArtifact && vv.ArtifactType != "" {
		reason = "artifact: " + vv.ArtifactType + "; " + reason
	}
	return reason, false
}

// loadEvidence reads the screenshot bytes an issue cites. Unreadable
// captures are skipped.
func (v *Validator) loadEvidence(issue *types.Issue, screenshots types.ScreenshotIndex) [][]byte {
	var images [][]byte
	for _, number := range issue.Metadata.ScreenshotNumbers {
		ref, ok := screenshots[number]
		if !ok || ref.Path == "" {
			continue
		}
		data, err := os.ReadFile(ref.Path)
		if err != nil {
			v.log.Warnw("failed to read screenshot", "number", number, "path", ref.Path, "error", err)
			continue
		}
		images = append(images, data)
	}
	return images
}

func dropRejected(issues []*types.Issue, rejected map[string]string) []*types.Issue {
	if len(rejected) == 0 || len(issues) == 0 {
		return issues
	}
	kept := issues[:0:0]
	for _, issue := range issues {
		if _, ok := rejected[issue.ID]; !ok {
			kept = append(kept, issue)
		}
	}
	return kept
}

// deepCopy clones a result through JSON so filtering cannot alias the
// caller's issue slices.
func deepCopy(result *types.AnalysisResult) (*types.AnalysisResult, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var out types.AnalysisResult
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
