package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/coordtech/packline/pkg/errdefs"
)

func writeDescriptor(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, DescriptorName), []byte(content), 0o644); err != nil {
		t.Fatalf("writing descriptor: %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, `{
		"name": "Invoices",
		"projectVersion": "1.2.0",
		"description": "Invoice processing",
		"dependencies": {
			"Acme.Shared": "[1.0.0,2.0.0)",
			"UiPath.System.Activities": "22.10.3"
		}
	}`)

	p, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != "Invoices" || p.Version != "1.2.0" {
		t.Errorf("identity = %s, want Invoices@1.2.0", p.Identity())
	}
	if len(p.Dependencies) != 2 {
		t.Fatalf("got %d dependencies, want 2", len(p.Dependencies))
	}
	// Sorted by name for stable output.
	if p.Dependencies[0].Name != "Acme.Shared" {
		t.Errorf("first dependency = %s, want Acme.Shared", p.Dependencies[0].Name)
	}
}

func TestLoadMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid json", `{not json`},
		{"missing name", `{"projectVersion": "1.0.0"}`},
		{"missing version", `{"name": "X"}`},
		{"bad version", `{"name": "X", "projectVersion": "not-a-version"}`},
		{"bad range", `{"name": "X", "projectVersion": "1.0.0", "dependencies": {"Y": "[["}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeDescriptor(t, dir, tt.content)
			_, err := Load(dir)
			if err == nil {
				t.Fatal("expected error")
			}
			if errdefs.CodeOf(err) != errdefs.CodeMalformedDescriptor {
				t.Errorf("code = %s, want %s", errdefs.CodeOf(err), errdefs.CodeMalformedDescriptor)
			}
		})
	}
}

func TestScanSkipsMalformedAndContinues(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, filepath.Join(root, "good-a"), `{"name": "A", "projectVersion": "1.0.0"}`)
	writeDescriptor(t, filepath.Join(root, "broken"), `{not json`)
	writeDescriptor(t, filepath.Join(root, "good-b"), `{"name": "B", "projectVersion": "2.0.0"}`)

	s := NewScanner(zerolog.Nop())
	projects, summary, err := s.ScanAll(context.Background(), root)
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("got %d projects, want 2", len(projects))
	}
	if summary.Scanned != 2 {
		t.Errorf("summary.Scanned = %d, want 2", summary.Scanned)
	}
	if len(summary.Skipped) != 1 {
		t.Fatalf("summary.Skipped = %+v, want 1 entry", summary.Skipped)
	}
}

func TestScanLazyStopsEarly(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, filepath.Join(root, "p1"), `{"name": "P1", "projectVersion": "1.0.0"}`)
	writeDescriptor(t, filepath.Join(root, "p2"), `{"name": "P2", "projectVersion": "1.0.0"}`)
	writeDescriptor(t, filepath.Join(root, "p3"), `{"name": "P3", "projectVersion": "1.0.0"}`)

	s := NewScanner(zerolog.Nop())
	seq, _, err := s.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	var seen int
	for range seq {
		seen++
		if seen == 1 {
			break
		}
	}
	if seen != 1 {
		t.Errorf("consumed %d projects after break, want 1", seen)
	}
}

func TestScanIgnoresNestedDescriptors(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, filepath.Join(root, "app"), `{"name": "App", "projectVersion": "1.0.0"}`)
	// A descriptor nested under a project root is test data, not a project.
	writeDescriptor(t, filepath.Join(root, "app", "testdata"), `{"name": "Nested", "projectVersion": "1.0.0"}`)

	s := NewScanner(zerolog.Nop())
	projects, _, err := s.ScanAll(context.Background(), root)
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	if len(projects) != 1 || projects[0].Name != "App" {
		t.Fatalf("projects = %+v, want only App", projects)
	}
}

func TestScanMissingRoot(t *testing.T) {
	s := NewScanner(zerolog.Nop())
	if _, _, err := s.Scan(context.Background(), "/does/not/exist"); err == nil {
		t.Fatal("expected error for missing root")
	}
}
