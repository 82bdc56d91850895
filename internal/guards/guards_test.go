// Package guards holds repository-wide source checks. It has no runtime code.
package guards

import (
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

const modulePath = "github.com/Monas-project/Prot-Prototype"

// findRepoRoot walks up from the working directory to the go.mod.
func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find go.mod in any parent directory")
		}
		dir = parent
	}
}

// goFile is one parsed non-test source file.
type goFile struct {
	rel  string
	fset *token.FileSet
	path string
}

// walkSources calls fn for every non-test .go file under root/dir.
// Missing directories are skipped.
func walkSources(t *testing.T, root, dir string, fn func(f goFile)) {
	t.Helper()
	base := filepath.Join(root, dir)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return
	}
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		fn(goFile{rel: filepath.ToSlash(rel), fset: token.NewFileSet(), path: path})
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", dir, err)
	}
}

// importsOf returns the import paths of a file with their line numbers.
func importsOf(t *testing.T, f goFile) map[string]int {
	t.Helper()
	node, err := parser.ParseFile(f.fset, f.path, nil, parser.ImportsOnly)
	if err != nil {
		t.Fatalf("parse %s: %v", f.rel, err)
	}
	out := make(map[string]int, len(node.Imports))
	for _, imp := range node.Imports {
		p, _ := strconv.Unquote(imp.Path.Value)
		out[p] = f.fset.Position(imp.Pos()).Line
	}
	return out
}

func violation(f goFile, line int, msg string) string {
	return f.rel + ":" + strconv.Itoa(line) + ": " + msg
}
