package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSource(t *testing.T, root string, rel string, imports ...string) {
	t.Helper()
	var b strings.Builder
	b.WriteString("package x\n\nimport (\n")
	for _, imp := range imports {
		b.WriteString("\t_ \"" + imp + "\"\n")
	}
	b.WriteString(")\n")
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func rulesByFile(violations []violation) map[string][]string {
	out := map[string][]string{}
	for _, v := range violations {
		out[v.File] = append(out[v.File], v.Rule)
	}
	return out
}

func TestReadModulePath(t *testing.T) {
	root := t.TempDir()
	goMod := filepath.Join(root, "go.mod")
	if err := os.WriteFile(goMod, []byte("// header\nmodule example.test/books\n\ngo 1.24.0\n"), 0o644); err != nil {
		t.Fatalf("write go.mod: %v", err)
	}
	module, err := readModulePath(goMod)
	if err != nil || module != "example.test/books" {
		t.Fatalf("expected example.test/books, got %q err=%v", module, err)
	}
	if _, err := readModulePath(filepath.Join(root, "missing.mod")); err == nil {
		t.Fatalf("expected missing go.mod to fail")
	}
}

func TestCollectViolationsFlagsLayerBreaches(t *testing.T) {
	root := t.TempDir()
	const module = "example.test/books"
	svc := "contexts/finance/books"

	writeSource(t, root, svc+"/domain/entities/ok.go", "time", module+"/contracts/canonicaljson")
	writeSource(t, root, svc+"/domain/services/bad.go", "github.com/google/uuid", module+"/internal/platform/db")
	writeSource(t, root, svc+"/ports/ports.go", module+"/"+svc+"/domain/entities", module+"/"+svc+"/adapters/memory")
	writeSource(t, root, svc+"/application/commands/cmd.go", module+"/"+svc+"/ports", "gorm.io/gorm")
	writeSource(t, root, svc+"/transport/http/dto.go", module+"/"+svc+"/domain/entities")
	writeSource(t, root, svc+"/adapters/postgres/repo.go", "gorm.io/gorm", module+"/"+svc+"/ports", module+"/"+svc+"/adapters/memory")
	writeSource(t, root, svc+"/adapters/memory/store.go", module+"/"+svc+"/adapters/memory/internal", module+"/contexts/other/svc/ports")
	writeSource(t, root, svc+"/module.go", module+"/"+svc+"/adapters/postgres")
	writeSource(t, root, svc+"/application/commands/cmd_test.go", module+"/"+svc+"/adapters/memory")

	got := rulesByFile(collectViolations(root, module))
	want := map[string][]string{
		svc + "/domain/services/bad.go":      {"domain must not import third-party packages", "domain must not import runtime infrastructure"},
		svc + "/ports/ports.go":              {"ports must not import adapters"},
		svc + "/application/commands/cmd.go": {"application must not import third-party packages"},
		svc + "/transport/http/dto.go":       {"transport import is outside explicit allowlist"},
		svc + "/adapters/postgres/repo.go":   {"adapters must not import sibling adapters"},
		svc + "/adapters/memory/store.go":    {"cross-module imports are forbidden"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected violations in %d files, got %v", len(want), got)
	}
	for file, rules := range want {
		if strings.Join(got[file], "|") != strings.Join(rules, "|") {
			t.Fatalf("%s: expected %v, got %v", file, rules, got[file])
		}
	}
}

func TestRepositoryRespectsBoundaries(t *testing.T) {
	module, err := readModulePath(filepath.Join("..", "go.mod"))
	if err != nil {
		t.Fatalf("read go.mod: %v", err)
	}
	if violations := collectViolations("..", module); len(violations) != 0 {
		t.Fatalf("expected no boundary violations, got %+v", violations)
	}
}
