package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/panbanda/convergence/internal/output"
	"github.com/panbanda/convergence/pkg/models"
)

func TestServerCreation(t *testing.T) {
	server := NewServer("1.0.0-test")
	if server == nil || server.server == nil {
		t.Fatal("NewServer() returned an incomplete server")
	}
	if NewServer("") == nil {
		t.Fatal(`NewServer("") returned nil`)
	}
}

func TestToolDescriptions(t *testing.T) {
	descriptions := map[string]func() string{
		"scan":   describeScan,
		"rubric": describeRubric,
	}

	for name, fn := range descriptions {
		t.Run(name, func(t *testing.T) {
			desc := fn()
			for _, section := range []string{"USE WHEN:", "INTERPRETING RESULTS:", "METRICS RETURNED:"} {
				if !strings.Contains(desc, section) {
					t.Errorf("%s description missing %s section", name, section)
				}
			}
		})
	}
}

func TestGetFormat(t *testing.T) {
	tests := []struct {
		format   string
		expected output.Format
	}{
		{"", output.FormatTOON},
		{"json", output.FormatJSON},
		{"markdown", output.FormatMarkdown},
		{"md", output.FormatMarkdown},
		{"toon", output.FormatTOON},
		{"xml", output.FormatTOON},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			if got := getFormat(tt.format); got != tt.expected {
				t.Errorf("getFormat(%q) = %v, want %v", tt.format, got, tt.expected)
			}
		})
	}
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content is not TextContent: %T", result.Content[0])
	}
	return text.Text
}

func TestToolError(t *testing.T) {
	result, _, err := toolError("test error message")
	if err != nil {
		t.Fatalf("toolError returned unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("toolError result.IsError should be true")
	}
	if got := textOf(t, result); got != "Error: test error message" {
		t.Errorf("toolError text = %q", got)
	}
}

func TestToolResultFormats(t *testing.T) {
	data := map[string]any{"key": "value", "num": 42}

	result, _, err := toolResult(data, output.FormatJSON)
	if err != nil {
		t.Fatalf("toolResult returned error: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(textOf(t, result)), &decoded); err != nil {
		t.Fatalf("JSON result does not parse: %v", err)
	}
	if decoded["key"] != "value" {
		t.Errorf("unexpected JSON result: %v", decoded)
	}

	result, _, err = toolResult(data, output.FormatTOON)
	if err != nil {
		t.Fatalf("toolResult returned error: %v", err)
	}
	if text := textOf(t, result); !strings.Contains(text, "key") || !strings.Contains(text, "value") {
		t.Errorf("unexpected TOON result: %q", text)
	}
}

func TestHandleRubric(t *testing.T) {
	t.Chdir(t.TempDir())
	s := NewServer("test")

	result, _, err := s.handleRubric(context.Background(), nil, RubricInput{Format: "json"})
	if err != nil {
		t.Fatalf("handleRubric returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("handleRubric failed: %s", textOf(t, result))
	}
	var view output.RubricView
	if err := json.Unmarshal([]byte(textOf(t, result)), &view); err != nil {
		t.Fatalf("rubric JSON does not parse: %v", err)
	}
	if len(view.Categories) != 9 || view.MaxScore != 27 {
		t.Errorf("unexpected rubric: %d categories, max %v", len(view.Categories), view.MaxScore)
	}
}

func TestHandleRubricBadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "convergence.toml")
	if err := os.WriteFile(path, []byte("[rubric]\nunknown_field = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	result, _, err := NewServer("test").handleRubric(context.Background(), nil, RubricInput{Config: path})
	if err != nil {
		t.Fatalf("handleRubric returned error: %v", err)
	}
	if !result.IsError {
		t.Error("expected a tool error for an invalid config")
	}
}

func initRepo(t *testing.T, messages ...string) string {
	t.Helper()
	repoPath := t.TempDir()
	repo, err := git.PlainInit(repoPath, false)
	if err != nil {
		t.Fatal(err)
	}
	w, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, msg := range messages {
		name := filepath.Join(repoPath, "file"+string(rune('a'+i))+".go")
		if err := os.WriteFile(name, []byte("package main\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := w.Add(filepath.Base(name)); err != nil {
			t.Fatal(err)
		}
		_, err := w.Commit(msg, &git.CommitOptions{
			Author: &object.Signature{Name: "Test", Email: "test@example.com", When: base.AddDate(0, 0, 7*i)},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return repoPath
}

func TestHandleScan(t *testing.T) {
	repoPath := initRepo(t, "feat: add agent loop", "feat: safety guard", "docs: fix typo")
	t.Chdir(t.TempDir())

	s := NewServer("test")
	result, _, err := s.handleScan(context.Background(), nil, ScanInput{
		Paths:  []string{repoPath},
		Format: "json",
	})
	if err != nil {
		t.Fatalf("handleScan returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("handleScan failed: %s", textOf(t, result))
	}

	var scanned models.ScanResult
	if err := json.Unmarshal([]byte(textOf(t, result)), &scanned); err != nil {
		t.Fatalf("scan JSON does not parse: %v", err)
	}
	if scanned.TotalCommits != 3 {
		t.Errorf("TotalCommits = %d, want 3", scanned.TotalCommits)
	}
	if scanned.Estimate.Determined {
		t.Error("three commits should not produce a determined estimate")
	}
}

func TestHandleScanErrors(t *testing.T) {
	t.Chdir(t.TempDir())
	s := NewServer("test")

	tests := []struct {
		name  string
		input ScanInput
	}{
		{"not a repository", ScanInput{Paths: []string{t.TempDir()}}},
		{"bad bucket", ScanInput{Paths: []string{"."}, Bucket: "fortnight"}},
		{"bad inception", ScanInput{Paths: []string{"."}, Inception: "yesterday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, _, err := s.handleScan(context.Background(), nil, tt.input)
			if err != nil {
				t.Fatalf("handleScan returned error: %v", err)
			}
			if !result.IsError {
				t.Errorf("expected tool error, got %s", textOf(t, result))
			}
		})
	}
}

func TestLoadPrompts(t *testing.T) {
	defs, err := loadPrompts()
	if err != nil {
		t.Fatalf("loadPrompts() error: %v", err)
	}
	if len(defs) == 0 {
		t.Fatal("no prompts embedded")
	}
	for _, def := range defs {
		if def.Description == "" {
			t.Errorf("prompt %s has no description", def.Name)
		}
		if strings.HasPrefix(def.Body, "---") {
			t.Errorf("prompt %s body still contains frontmatter", def.Name)
		}
	}
}

func TestPromptHandlerSubstitutesArguments(t *testing.T) {
	defs, err := loadPrompts()
	if err != nil {
		t.Fatal(err)
	}
	var review promptDefinition
	for _, def := range defs {
		if def.Name == "convergence-review" {
			review = def
		}
	}
	if review.Name == "" {
		t.Fatal("convergence-review prompt not found")
	}

	handler := makePromptHandler(review)
	result, err := handler(context.Background(), &mcp.GetPromptRequest{
		Params: &mcp.GetPromptParams{Name: review.Name, Arguments: map[string]string{"paths": "../core"}},
	})
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	text := result.Messages[0].Content.(*mcp.TextContent).Text
	if !strings.Contains(text, "[../core]") || strings.Contains(text, "{{paths}}") {
		t.Errorf("arguments not substituted: %s", text)
	}

	result, err = handler(context.Background(), &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{Name: review.Name}})
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if text := result.Messages[0].Content.(*mcp.TextContent).Text; !strings.Contains(text, "[.]") {
		t.Errorf("default not applied: %s", text)
	}
}

func TestSubstituteArg(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		args     map[string]string
		expected string
	}{
		{"use provided value", "paths {{paths}}", map[string]string{"paths": "a,b"}, "paths a,b"},
		{"use default when missing", "paths {{paths}}", map[string]string{}, "paths ."},
		{"use default when empty", "paths {{paths}}", map[string]string{"paths": ""}, "paths ."},
		{"no placeholder unchanged", "nothing here", map[string]string{"paths": "x"}, "nothing here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := substituteArg(tt.text, "paths", tt.args, "."); got != tt.expected {
				t.Errorf("substituteArg() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestParseFrontmatterWithoutHeader(t *testing.T) {
	fm, body := parseFrontmatter([]byte("just a body"))
	if fm.Description != "" || body != "just a body" {
		t.Errorf("unexpected parse: %+v %q", fm, body)
	}
}
