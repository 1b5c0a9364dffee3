package main

import (
	"bufio"
	"flag"
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

// layerRule lists what a service layer may import beyond the standard
// library. Prefixes starting with "/" are relative to the service root.
type layerRule struct {
	allowed    []string
	thirdParty bool
	adapters   bool
}

var layerRules = map[string]layerRule{
	"domain": {
		allowed: []string{"/domain", "{module}/contracts/canonicaljson"},
	},
	"ports": {
		allowed: []string{"/domain", "/ports", "{module}/contracts"},
	},
	"application": {
		allowed: []string{"/application", "/domain", "/ports", "{module}/contracts"},
	},
	"transport": {
		allowed: []string{"/transport"},
	},
	"adapters": {
		allowed:    []string{"/application", "/domain", "/ports", "/transport", "/adapters", "{module}/contracts"},
		thirdParty: true,
		adapters:   true,
	},
}

func main() {
	root := flag.String("root", ".", "repository root containing go.mod")
	flag.Parse()

	module, err := readModulePath(filepath.Join(*root, "go.mod"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "boundary check: %v\n", err)
		os.Exit(2)
	}

	violations := collectViolations(*root, module)
	if len(violations) == 0 {
		fmt.Println("boundary checks passed")
		return
	}
	fmt.Println("boundary violations found:")
	for _, v := range violations {
		fmt.Printf("- %s:%d imports %q (%s)\n", v.File, v.Line, v.Import, v.Rule)
	}
	os.Exit(1)
}

func readModulePath(goMod string) (string, error) {
	file, err := os.Open(goMod)
	if err != nil {
		return "", err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if rest, ok := strings.CutPrefix(line, "module "); ok {
			return strings.Trim(strings.TrimSpace(rest), `"`), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%s has no module directive", goMod)
}

// collectViolations checks every non-test file under <root>/contexts/<context>/<service>/<layer>.
func collectViolations(root string, module string) []violation {
	var violations []violation
	contextsDir := filepath.Join(root, "contexts")

	_ = filepath.WalkDir(contextsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		normalized := filepath.ToSlash(rel)
		parts := strings.Split(normalized, "/")
		if len(parts) < 4 {
			return nil
		}

		servicePrefix := fmt.Sprintf("%s/contexts/%s/%s", module, parts[1], parts[2])
		layer := ""
		if len(parts) > 4 {
			layer = parts[3]
		}
		subpackage := ""
		if layer == "adapters" && len(parts) > 5 {
			subpackage = parts[4]
		}
		violations = append(violations, validateFile(path, normalized, module, servicePrefix, layer, subpackage)...)
		return nil
	})

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].File == violations[j].File {
			if violations[i].Line == violations[j].Line {
				return violations[i].Import < violations[j].Import
			}
			return violations[i].Line < violations[j].Line
		}
		return violations[i].File < violations[j].File
	})
	return violations
}

func validateFile(path string, normalizedPath string, module string, servicePrefix string, layer string, subpackage string) []violation {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
	if err != nil {
		return []violation{{File: normalizedPath, Line: 1, Rule: "file must parse"}}
	}

	var violations []violation
	for _, imp := range file.Imports {
		importPath := strings.Trim(imp.Path.Value, `"`)
		add := func(rule string) {
			violations = append(violations, violation{
				File:   normalizedPath,
				Line:   fset.Position(imp.Pos()).Line,
				Import: importPath,
				Rule:   rule,
			})
		}

		if hasPrefix(importPath, module+"/contexts") && !hasPrefix(importPath, servicePrefix) {
			add("cross-module imports are forbidden")
			continue
		}
		rule, ok := layerRules[layer]
		if !ok {
			continue
		}
		if hasPrefix(importPath, module+"/internal") {
			add(layer + " must not import runtime infrastructure")
			continue
		}
		if rule.adapters && subpackage != "" &&
			hasPrefix(importPath, servicePrefix+"/adapters") &&
			!hasPrefix(importPath, servicePrefix+"/adapters/"+subpackage) {
			add("adapters must not import sibling adapters")
			continue
		}
		if !rule.adapters && hasPrefix(importPath, servicePrefix+"/adapters") {
			add(layer + " must not import adapters")
			continue
		}
		if isStdlib(importPath, module) {
			continue
		}
		if !hasPrefix(importPath, module) {
			if !rule.thirdParty {
				add(layer + " must not import third-party packages")
			}
			continue
		}
		if !isAllowed(importPath, expandAllowed(rule.allowed, module, servicePrefix)) {
			add(layer + " import is outside explicit allowlist")
		}
	}
	return violations
}

func expandAllowed(allowed []string, module string, servicePrefix string) []string {
	out := make([]string, 0, len(allowed))
	for _, prefix := range allowed {
		switch {
		case strings.HasPrefix(prefix, "/"):
			out = append(out, servicePrefix+prefix)
		default:
			out = append(out, strings.ReplaceAll(prefix, "{module}", module))
		}
	}
	return out
}

func hasPrefix(path string, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func isAllowed(importPath string, allowedPrefixes []string) bool {
	for _, p := range allowedPrefixes {
		if hasPrefix(importPath, p) {
			return true
		}
	}
	return false
}

func isStdlib(importPath string, module string) bool {
	if hasPrefix(importPath, module) {
		return false
	}
	first := importPath
	if idx := strings.Index(first, "/"); idx != -1 {
		first = first[:idx]
	}
	return !strings.Contains(first, ".")
}
