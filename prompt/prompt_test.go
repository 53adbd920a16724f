package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTemplateRender(t *testing.T) {
	tmpl, err := NewTemplate("greet", "Hello {{.Name}}, values {{json .Values}}")
	if err != nil {
		t.Fatalf("NewTemplate failed: %v", err)
	}

	out, err := tmpl.Render(map[string]any{"Name": "Ada", "Values": map[string]int{"x": 1}})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if out != `Hello Ada, values {"x":1}` {
		t.Errorf("Unexpected output %q", out)
	}
}

func TestTemplateMissingKey(t *testing.T) {
	tmpl, err := NewTemplate("greet", "Hello {{.Name}}")
	if err != nil {
		t.Fatalf("NewTemplate failed: %v", err)
	}
	if _, err := tmpl.Render(map[string]any{}); err == nil {
		t.Errorf("Expected error for missing variable")
	}
}

func TestManagerRegister(t *testing.T) {
	m := NewManager()
	if err := m.RegisterString("a", "x"); err != nil {
		t.Fatalf("RegisterString failed: %v", err)
	}
	if err := m.RegisterString("a", "y"); err == nil {
		t.Errorf("Expected duplicate registration to fail")
	}
	if err := m.RegisterString("", "y"); err == nil {
		t.Errorf("Expected empty name to fail")
	}
	if err := m.Override("a", "z"); err != nil {
		t.Fatalf("Override failed: %v", err)
	}
	out, _ := m.Render("a", nil)
	if out != "z" {
		t.Errorf("Expected overridden template, got %q", out)
	}
	if _, err := m.Render("missing", nil); err == nil {
		t.Errorf("Expected error for unknown template")
	}
}

func TestDefaultTemplates(t *testing.T) {
	m := Default()

	want := []string{Aggregate, Classify, Control, Media, Navigation, QA}
	got := m.List()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Expected templates %v, got %v", want, got)
	}

	out, err := m.Render(Classify, map[string]any{
		"Categories": []string{"navigation", "media"},
		"Examples":   []string{"navigation: take me home"},
		"Query":      "play jazz",
	})
	if err != nil {
		t.Fatalf("Render classify failed: %v", err)
	}
	if !strings.Contains(out, "navigation, media") || !strings.Contains(out, "Request: play jazz") {
		t.Errorf("Unexpected classify prompt:\n%s", out)
	}

	out, err = m.Render(Control, map[string]any{
		"Candidates": []string{"lights.porch.power"},
		"Values":     map[string]any{"lights.porch.power": true},
		"Query":      "turn off the porch light",
	})
	if err != nil {
		t.Fatalf("Render control failed: %v", err)
	}
	if !strings.Contains(out, `{"lights.porch.power":true}`) {
		t.Errorf("Expected current values in control prompt:\n%s", out)
	}
}

func TestLoadDirOverridesBuiltin(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "aggregate.tmpl"), []byte("Say: {{.Result}}"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	m := Default()
	if err := m.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	out, err := m.Render(Aggregate, map[string]any{"Result": "done"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if out != "Say: done" {
		t.Errorf("Expected override, got %q", out)
	}
}

func TestLoadDirRejectsUnknownName(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "agregate.tmpl"), []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := Default().LoadDir(dir); err == nil || !strings.Contains(err.Error(), "unknown template") {
		t.Errorf("Expected unknown template error, got %v", err)
	}
}
