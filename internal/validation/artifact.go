// Package validation screens visual issues against screenshot evidence: a
// rule-based artifact pre-classifier followed by a vision-model verification
// pass. The validator filters a copy of the analysis result and never
// mutates its input.
package validation

import (
	"strings"
)

// ArtifactVerdict is the pre-classifier's judgment on one issue.
type ArtifactVerdict struct {
	IsPotentialArtifact bool    `json:"is_potential_artifact"`
	Confidence          float64 `json:"confidence"`
	ArtifactType        string  `json:"artifact_type,omitempty"`
	Reasoning           string  `json:"reasoning"`
}

// artifactRule matches one class of screenshot rendering artifact by
// signal phrases in an issue's text.
type artifactRule struct {
	artifactType string
	confidence   float64
	phrases      []string
}

// Capture artifacts the analyzers routinely mistake for site defects. The
// confidences are calibrated so only the unambiguous classes clear the 0.8
// auto-skip bar.
var artifactRules = []artifactRule{
	{
		artifactType: "viewport-edge-clipping",
		confidence:   0.9,
		phrases: []string{
			"cut off at the edge", "clipped at the viewport", "cut off at the bottom",
			"content is cut off", "truncated at the edge", "extends beyond the viewport",
		},
	},
	{
		artifactType: "lazy-load-duplicate",
		confidence:   0.85,
		phrases: []string{
			"duplicated hero", "duplicate image", "image appears twice",
			"repeated hero image", "same image rendered twice",
		},
	},
	{
		artifactType: "partial-paint",
		confidence:   0.85,
		phrases: []string{
			"partially loaded", "blank section", "missing images", "images failed to load",
			"placeholder visible", "content still loading", "white area where",
		},
	},
	{
		artifactType: "render-flash",
		confidence:   0.7,
		phrases: []string{
			"flash of unstyled", "font swap", "layout shift captured",
		},
	},
}

// DetectArtifact inspects an issue's text for known screenshot rendering
// artifacts. Pure function; never fails.
func DetectArtifact(title, description, category string, keywords []string) ArtifactVerdict {
	text := strings.ToLower(title + " " + description + " " + strings.Join(keywords, " "))

	for _, rule := range artifactRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(text, phrase) {
				return ArtifactVerdict{
					IsPotentialArtifact: true,
					Confidence:          rule.confidence,
					ArtifactType:        rule.artifactType,
					Reasoning:           "matched " + rule.artifactType + " signal: " + phrase,
				}
			}
		}
	}

	return ArtifactVerdict{Reasoning: "no artifact signals matched"}
}
