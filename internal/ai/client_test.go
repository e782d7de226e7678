package ai

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseJSONResponsePlain(t *testing.T) {
	raw, err := ParseJSONResponse(`{"score": 85}`)
	if err != nil {
		t.Fatalf("ParseJSONResponse: %v", err)
	}
	var out struct {
		Score int `json:"score"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if out.Score != 85 {
		t.Errorf("score = %d, want 85", out.Score)
	}
}

func TestParseJSONResponseFenced(t *testing.T) {
	content := "Here is the result:\n```json\n{\"verified\": true, \"confidence\": 0.9}\n```"
	raw, err := ParseJSONResponse(content)
	if err != nil {
		t.Fatalf("ParseJSONResponse: %v", err)
	}
	var out struct {
		Verified   bool    `json:"verified"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if !out.Verified || out.Confidence != 0.9 {
		t.Errorf("got %+v", out)
	}
}

func TestParseJSONResponseLeadingProse(t *testing.T) {
	content := `After careful review I conclude: {"grade": "B", "nested": {"x": 1}}`
	raw, err := ParseJSONResponse(content)
	if err != nil {
		t.Fatalf("ParseJSONResponse: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if out["grade"] != "B" {
		t.Errorf("grade = %v, want B", out["grade"])
	}
}

func TestParseJSONResponseNoJSON(t *testing.T) {
	if _, err := ParseJSONResponse("sorry, I cannot help with that"); err == nil {
		t.Error("expected error for non-JSON content")
	}
}

func TestLibraryLoadSubstitutesVariables(t *testing.T) {
	lib := NewLibrary("gemini-2.5-flash")

	p, err := lib.Load("page-selection", map[string]string{
		"business":  "Acme Plumbing",
		"max_pages": "5",
		"urls":      "/\n/about",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Model != "gemini-2.5-flash" {
		t.Errorf("model = %q", p.Model)
	}
	if !strings.Contains(p.UserPrompt, "Acme Plumbing") {
		t.Error("variable not substituted")
	}
	if strings.Contains(p.UserPrompt, "{{business}}") {
		t.Error("placeholder left in prompt")
	}
	if !strings.Contains(p.UserPromptTemplate, "{{business}}") {
		t.Error("template should keep placeholders")
	}
}

func TestLibraryLoadUnknownPrompt(t *testing.T) {
	lib := NewLibrary("m")
	if _, err := lib.Load("does-not-exist", nil); err == nil {
		t.Error("expected error for unknown prompt")
	}
}

func TestLibraryRegister(t *testing.T) {
	lib := NewLibrary("m")
	lib.Register("custom", "sys", "user {{x}}", 0.5)

	p, err := lib.Load("custom", map[string]string{"x": "1"})
	if err != nil {
		t.Fatal(err)
	}
	if p.UserPrompt != "user 1" {
		t.Errorf("user prompt = %q", p.UserPrompt)
	}
}
