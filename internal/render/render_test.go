package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeRunner emulates pdftoppm by writing files named after the prefix arg.
type fakeRunner struct {
	names []string
	err   error
	args  []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.args = append([]string{name}, args...)
	if f.err != nil {
		return nil, []byte("Syntax Error: bad pdf"), f.err
	}
	prefix := args[len(args)-1]
	for _, n := range f.names {
		if err := os.WriteFile(prefix+"-"+n+".png", []byte("png-"+n), 0o600); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, nil
}

func TestRenderOrdersPagesNumerically(t *testing.T) {
	runner := &fakeRunner{names: []string{"10", "02", "1", "9"}}
	p := NewPoppler("")
	p.UseRunner(runner)

	pages, err := p.Render(context.Background(), "/tmp/doc.pdf", 200)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(pages) != 4 {
		t.Fatalf("expected 4 pages, got %d", len(pages))
	}
	want := []string{"png-1", "png-02", "png-9", "png-10"}
	for i, pg := range pages {
		if pg.Number != i+1 || string(pg.PNG) != want[i] {
			t.Fatalf("page %d: got number=%d data=%q", i, pg.Number, pg.PNG)
		}
	}
	if runner.args[0] != "pdftoppm" || runner.args[2] != "200" || runner.args[3] != "-png" {
		t.Fatalf("unexpected invocation: %v", runner.args)
	}
}

func TestRenderNoPages(t *testing.T) {
	p := NewPoppler("pdftoppm")
	p.UseRunner(&fakeRunner{})
	if _, err := p.Render(context.Background(), "/tmp/doc.pdf", 0); !errors.Is(err, ErrNoPages) {
		t.Fatalf("expected ErrNoPages, got %v", err)
	}
}

func TestRenderCommandFailure(t *testing.T) {
	p := NewPoppler("pdftoppm")
	p.UseRunner(&fakeRunner{err: errors.New("exit status 1")})
	_, err := p.Render(context.Background(), "/tmp/doc.pdf", 150)
	if err == nil || !strings.Contains(err.Error(), "Syntax Error: bad pdf") {
		t.Fatalf("expected error carrying stderr, got %v", err)
	}
}

func TestStderrTailKeepsLastLines(t *testing.T) {
	out := []byte("Syntax Warning: a\n\nSyntax Warning: b\nSyntax Warning: c\nSyntax Warning: d\nSyntax Error: broken xref\n")
	want := "Syntax Warning: b | Syntax Warning: c | Syntax Warning: d | Syntax Error: broken xref"
	if got := stderrTail(out); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := stderrTail(nil); got != "" {
		t.Fatalf("expected empty tail, got %q", got)
	}
}

func TestPageCountInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, []byte("not a pdf"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewPoppler("").PageCount(path); err == nil {
		t.Fatalf("expected error for invalid pdf")
	}
}
