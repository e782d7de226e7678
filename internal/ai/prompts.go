package ai

import (
	"fmt"
	"strings"
)

// Prompt is a loaded prompt definition with its model routing. UserPrompt is
// the template with variables substituted; UserPromptTemplate is the raw
// template for callers that render later.
type Prompt struct {
	Model              string
	Temperature        float32
	SystemPrompt       string
	UserPrompt         string
	UserPromptTemplate string
}

// promptDef is a registered prompt template.
type promptDef struct {
	model       string
	temperature float32
	system      string
	user        string
}

// Library resolves prompt names to definitions and substitutes {{variable}}
// placeholders. The default model is applied when a definition carries none.
type Library struct {
	defaultModel string
	defs         map[string]promptDef
}

// NewLibrary creates a prompt library routing to the given default model.
func NewLibrary(defaultModel string) *Library {
	return &Library{
		defaultModel: defaultModel,
		defs:         builtinPrompts(),
	}
}

// Load resolves a prompt by name and substitutes variables.
func (l *Library) Load(name string, vars map[string]string) (*Prompt, error) {
	def, ok := l.defs[name]
	if !ok {
		return nil, fmt.Errorf("unknown prompt: %s", name)
	}

	model := def.model
	if model == "" {
		model = l.defaultModel
	}

	user := def.user
	for key, value := range vars {
		user = strings.ReplaceAll(user, "{{"+key+"}}", value)
	}

	return &Prompt{
		Model:              model,
		Temperature:        def.temperature,
		SystemPrompt:       def.system,
		UserPrompt:         user,
		UserPromptTemplate: def.user,
	}, nil
}

// Register adds or replaces a prompt definition. Used by callers that carry
// custom prompt payloads.
func (l *Library) Register(name, system, user string, temperature float32) {
	l.defs[name] = promptDef{system: system, user: user, temperature: temperature}
}

func builtinPrompts() map[string]promptDef {
	return map[string]promptDef{
		"page-selection": {
			temperature: 0.2,
			system: "You select the most analysis-relevant pages of a website for each audit category. " +
				"Respond with JSON: {\"seo_pages\":[],\"content_pages\":[],\"visual_pages\":[],\"social_pages\":[],\"reasoning\":\"\"}. " +
				"Only use URLs from the provided list.",
			user: "Business: {{business}}\nMax pages per category: {{max_pages}}\nDiscovered URLs:\n{{urls}}",
		},
		"analyzer-seo": {
			temperature: 0.2,
			system: "You are an SEO auditor. Score the site 0-100 and list concrete issues. " +
				"Respond with JSON: {\"score\":0,\"issues\":[{\"title\":\"\",\"description\":\"\",\"severity\":\"\",\"priority\":\"\",\"impact\":\"\",\"page\":\"\",\"fix\":\"\",\"difficulty\":\"\"}],\"positives\":[],\"quick_wins\":[]}.",
			user:   "Business: {{business}}\n{{context}}\nPages:\n{{pages}}",
		},
		"analyzer-content": {
			temperature: 0.2,
			system: "You are a website content auditor. Score the content 0-100 and list concrete issues. " +
				"Respond with JSON: {\"score\":0,\"issues\":[{\"title\":\"\",\"description\":\"\",\"severity\":\"\",\"priority\":\"\",\"impact\":\"\",\"page\":\"\",\"fix\":\"\"}],\"positives\":[],\"quick_wins\":[]}.",
			user: "Business: {{business}}\n{{context}}\nPages:\n{{pages}}",
		},
		"analyzer-visual": {
			temperature: 0.2,
			system: "You are a visual design auditor reviewing {{viewport}} screenshots. Score 0-100 and list concrete issues. " +
				"Number screenshots in the order given and reference them via metadata.screenshot_numbers. " +
				"Respond with JSON: {\"score\":0,\"issues\":[{\"title\":\"\",\"description\":\"\",\"severity\":\"\",\"priority\":\"\",\"impact\":\"\",\"page\":\"\",\"metadata\":{\"viewport\":\"\",\"screenshot_numbers\":[]}}],\"positives\":[],\"quick_wins\":[]}.",
			user: "Business: {{business}}\nViewport: {{viewport}}\n{{context}}\nPages:\n{{pages}}",
		},
		"analyzer-social": {
			temperature: 0.2,
			system: "You audit a website's social presence and share metadata. Score 0-100. " +
				"Respond with JSON: {\"score\":0,\"issues\":[{\"title\":\"\",\"description\":\"\",\"severity\":\"\",\"priority\":\"\",\"page\":\"\"}],\"positives\":[],\"quick_wins\":[]}.",
			user: "Business: {{business}}\n{{context}}\nPages:\n{{pages}}",
		},
		"analyzer-accessibility": {
			temperature: 0.2,
			system: "You are a WCAG accessibility auditor. Score 0-100 and cite WCAG criteria. " +
				"Respond with JSON: {\"score\":0,\"issues\":[{\"title\":\"\",\"description\":\"\",\"severity\":\"\",\"priority\":\"\",\"page\":\"\",\"wcag_criterion\":\"\",\"fix\":\"\"}],\"positives\":[],\"quick_wins\":[]}.",
			user: "Business: {{business}}\n{{context}}\nPages:\n{{pages}}",
		},
		"analyzer-unified-technical": {
			temperature: 0.2,
			system: "You audit a website's SEO and content together. " +
				"Respond with JSON: {\"seo\":{\"score\":0,\"issues\":[],\"positives\":[],\"quick_wins\":[]},\"content\":{\"score\":0,\"issues\":[],\"positives\":[],\"quick_wins\":[]}}. " +
				"Issue objects: {\"title\":\"\",\"description\":\"\",\"severity\":\"\",\"priority\":\"\",\"page\":\"\",\"fix\":\"\"}.",
			user: "Business: {{business}}\n{{context}}\nPages:\n{{pages}}",
		},
		"analyzer-unified-visual": {
			temperature: 0.2,
			system: "You audit desktop and mobile screenshots together. " +
				"Respond with JSON: {\"desktop\":{\"score\":0,\"issues\":[],\"positives\":[],\"quick_wins\":[]},\"mobile\":{\"score\":0,\"issues\":[],\"positives\":[],\"quick_wins\":[]}}. " +
				"Issue objects carry metadata.viewport and metadata.screenshot_numbers.",
			user: "Business: {{business}}\n{{context}}\nPages:\n{{pages}}",
		},
		"vision-verify": {
			temperature: 0.1,
			system: "You verify whether a reported visual issue is actually visible in the attached screenshot, " +
				"or is a screenshot rendering artifact. Respond with JSON: " +
				"{\"verified\":false,\"confidence\":0.0,\"evidence\":\"\",\"potential_artifact\":false,\"artifact_type\":\"\",\"reasoning\":\"\"}.",
			user: "Issue: {{title}}\nDescription: {{description}}\nPage: {{page}}\nViewport: {{viewport}}",
		},
		"issue-dedup": {
			temperature: 0.1,
			system: "You merge semantically equivalent website issues reported by different analyzers or on different pages: " +
				"same root cause, different perspective on one defect, quantified vs generic phrasing, and cross-device duplicates. " +
				"Respond with JSON: {\"groups\":[{\"primary_issue_id\":\"\",\"merged_issues\":[\"\"],\"title\":\"\",\"description\":\"\",\"impact\":\"\",\"merge_reason\":\"\"}]}. " +
				"Every merged_issues entry must be an id from the input. Issues you leave out of all groups stay as they are.",
			user: "Issues:\n{{issues}}",
		},
		"issue-rank": {
			temperature: 0.2,
			system: "You pick the top website issues a business should fix first, considering business impact and effort. " +
				"Respond with JSON: {\"top_issues\":[{\"issue_id\":\"\",\"rank\":1,\"reasoning\":\"\"}],\"excluded_count\":0,\"selection_strategy\":\"\"}.",
			user: "Business: {{business}}\nLimit: {{limit}}\nIssues:\n{{issues}}",
		},
		"benchmark-match": {
			temperature: 0.2,
			system: "You match a business to its most comparable benchmark from the candidates. " +
				"Respond with JSON: {\"benchmark_company_name\":\"\",\"match_score\":0.0,\"comparison_tier\":\"\",\"match_reasoning\":\"\",\"key_similarities\":[],\"key_differences\":[]}.",
			user: "Business: {{business}}\nCandidates:\n{{candidates}}",
		},
		"strength-extract": {
			temperature: 0.2,
			system: "You distill a website audit's positives into short strength descriptors. " +
				"Respond with JSON: {\"strengths\":[{\"category\":\"\",\"title\":\"\",\"detail\":\"\"}]}.",
			user: "Positives by category:\n{{positives}}",
		},
		"grading-weights": {
			temperature: 0.1,
			system: "You assign importance weights to website audit categories for this business. Weights sum to 1. " +
				"Respond with JSON: {\"design\":0.25,\"seo\":0.25,\"performance\":0.2,\"content\":0.15,\"accessibility\":0.1,\"social\":0.05,\"reasoning\":\"\"}.",
			user: "Business: {{business}}\nCategory scores: {{scores}}",
		},
	}
}
