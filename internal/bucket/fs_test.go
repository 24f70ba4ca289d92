package bucket

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/alexban14/ai.dok/internal/domain"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestList_SortedAndFiltered(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.pdf", "b")
	writeFile(t, root, "a.PDF", "a")
	writeFile(t, root, "sub/c.pdf", "c")
	writeFile(t, root, "notes.md", "skip me")

	s := NewFS(root, ".pdf")
	ids, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"a.PDF", "b.pdf", "sub/c.pdf"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
}

func TestList_StableAcrossRuns(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"z.txt", "a.txt", "m.txt"} {
		writeFile(t, root, name, name)
	}
	s := NewFS(root)
	first, _ := s.List(context.Background())
	second, _ := s.List(context.Background())
	if !reflect.DeepEqual(first, second) {
		t.Error("enumeration order must be stable")
	}
}

func TestGet(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sub/doc.pdf", "payload")

	s := NewFS(root)
	data, err := s.Get(context.Background(), "sub/doc.pdf")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("data = %q", data)
	}

	if _, err := s.Get(context.Background(), "absent.pdf"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
