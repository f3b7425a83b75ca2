// Package render turns PDF documents into page rasters.
package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"
)

const DefaultDPI = 150

var ErrNoPages = errors.New("renderer produced no pages")

// Page is one rendered page. Number is 1-based; PNG holds the encoded raster.
type Page struct {
	Number int
	PNG    []byte
}

// Renderer is the page rasterization capability the pipeline depends on.
type Renderer interface {
	Render(ctx context.Context, path string, dpi int) ([]Page, error)
	PageCount(path string) (int, error)
}

// Poppler renders with the pdftoppm binary and counts pages with pdfcpu.
type Poppler struct {
	binary string
	runner Runner
}

var disablePdfcpuConfig sync.Once

// NewPoppler returns a renderer invoking binary (default "pdftoppm").
func NewPoppler(binary string) *Poppler {
	if binary == "" {
		binary = "pdftoppm"
	}
	disablePdfcpuConfig.Do(func() { model.ConfigPath = "disable" })
	return &Poppler{binary: binary, runner: execRunner{}}
}

// UseRunner swaps the command runner; intended for tests.
func (p *Poppler) UseRunner(r Runner) { p.runner = r }

// PageCount reads the page count from the PDF structure without rendering.
func (p *Poppler) PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("page count %s: %w", filepath.Base(path), err)
	}
	return n, nil
}

// Render rasterizes every page of path at dpi and returns them in page order.
func (p *Poppler) Render(ctx context.Context, path string, dpi int) ([]Page, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	tmpDir, err := os.MkdirTemp("", "docclassifier-pages-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			log.Warn().Err(err).Str("dir", tmpDir).Msg("failed to remove render dir")
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r <dpi> -png <in.pdf> <tmp/page>
	_, stderr, err := p.runner.Run(ctx, p.binary, "-r", strconv.Itoa(dpi), "-png", path, prefix)
	if err != nil {
		if tail := stderrTail(stderr); tail != "" {
			return nil, fmt.Errorf("pdftoppm %s: %w: %s", filepath.Base(path), err, tail)
		}
		return nil, fmt.Errorf("pdftoppm %s: %w", filepath.Base(path), err)
	}

	// pdftoppm writes prefix-1.png, prefix-2.png, ... zero-padded to the widest number
	matches, _ := filepath.Glob(prefix + "-*.png")
	if len(matches) == 0 {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrNoPages)
	}
	numbered := make([]Page, 0, len(matches))
	for _, m := range matches {
		n, ok := pageNumber(prefix, m)
		if !ok {
			continue
		}
		data, err := os.ReadFile(m) //nolint:gosec // path produced by pdftoppm in our temp dir
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", n, err)
		}
		numbered = append(numbered, Page{Number: n, PNG: data})
	}
	sort.Slice(numbered, func(i, j int) bool { return numbered[i].Number < numbered[j].Number })
	// renumber densely so callers always see 1..n
	for i := range numbered {
		numbered[i].Number = i + 1
	}
	return numbered, nil
}

func pageNumber(prefix, path string) (int, bool) {
	s := strings.TrimSuffix(strings.TrimPrefix(path, prefix+"-"), ".png")
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
