package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const archiveDirPerm os.FileMode = 0o750

// Kind names one of the archives built from a job's output tree.
type Kind string

const (
	KindAll               Kind = "all"
	KindReceiptsUnstamped Kind = "receipts_unstamped"
	KindReceiptsStamped   Kind = "receipts_stamped"
	KindCreditNotes       Kind = "credit_notes"
)

// Filter decides whether a file, given by its slash-separated path relative
// to the archived root, goes into the archive.
type Filter func(rel string) bool

// Everything keeps every file.
func Everything(string) bool { return true }

// WithSegments keeps files whose relative path contains every given segment
// as a whole path element. "stamped" does not match "unstamped".
func WithSegments(segments ...string) Filter {
	return func(rel string) bool {
		parts := strings.Split(rel, "/")
		for _, want := range segments {
			found := false
			for _, p := range parts {
				if p == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
}

// Spec binds an archive kind to its file name and filter.
type Spec struct {
	Kind     Kind
	FileName string
	Keep     Filter
}

// DefaultSpecs are the four archives produced for every finished job.
func DefaultSpecs() []Spec {
	return []Spec{
		{Kind: KindAll, FileName: "all_output.zip", Keep: Everything},
		{Kind: KindReceiptsUnstamped, FileName: "receipts_unstamped.zip", Keep: WithSegments("receipts", "unstamped")},
		{Kind: KindReceiptsStamped, FileName: "receipts_stamped.zip", Keep: WithSegments("receipts", "stamped")},
		{Kind: KindCreditNotes, FileName: "credit_notes.zip", Keep: WithSegments("credit_notes")},
	}
}

// BuildArchive writes every file under root accepted by keep into a zip at
// destZipPath. Entry names are relative to root. A missing root produces an
// empty archive. Returns the number of entries written.
func BuildArchive(ctx context.Context, root, destZipPath string, keep Filter) (int, error) {
	if keep == nil {
		keep = Everything
	}
	zipFile, zipWriter, err := prepareZip(destZipPath)
	if err != nil {
		return 0, err
	}
	defer func() { _ = zipFile.Close() }()

	entries := 0
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !keep(rel) {
			return nil
		}
		if err := addFile(zipWriter, path, rel); err != nil {
			return err
		}
		entries++
		return nil
	})
	if walkErr != nil {
		_ = zipWriter.Close()
		return entries, fmt.Errorf("walk %s: %w", root, walkErr)
	}

	if err := zipWriter.Close(); err != nil {
		log.Error().Err(err).Str("zip", destZipPath).Msg("closing zip writer failed")
		return entries, fmt.Errorf("close zip writer: %w", err)
	}
	if err := zipFile.Close(); err != nil {
		log.Error().Err(err).Str("zip", destZipPath).Msg("closing zip file failed")
		return entries, fmt.Errorf("close zip file: %w", err)
	}
	return entries, nil
}

// BuildSet builds every spec from root into dir concurrently and returns
// the written paths keyed by kind.
func BuildSet(ctx context.Context, root, dir string, specs []Spec) (map[Kind]string, error) {
	paths := make(map[Kind]string, len(specs))
	counts := make([]int, len(specs))
	eg, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		dest := filepath.Join(dir, spec.FileName)
		paths[spec.Kind] = dest
		eg.Go(func() error {
			n, err := BuildArchive(gctx, root, dest, spec.Keep)
			if err != nil {
				return fmt.Errorf("%s archive: %w", spec.Kind, err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	for i, spec := range specs {
		log.Debug().Str("kind", string(spec.Kind)).Int("entries", counts[i]).Msg("archive built")
	}
	return paths, nil
}

func addFile(zipWriter *zip.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zip header %s: %w", name, err)
	}
	header.Name = name
	header.Method = zip.Deflate

	entryWriter, err := zipWriter.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("zip entry create %s: %w", name, err)
	}
	src, err := os.Open(path) //nolint:gosec // path comes from walking an app-owned tree
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = src.Close() }()
	if _, err := io.Copy(entryWriter, src); err != nil {
		return fmt.Errorf("copy into zip %s: %w", name, err)
	}
	return nil
}

// prepareZip creates destination file and a zip writer for it.
func prepareZip(destZipPath string) (io.WriteCloser, *zip.Writer, error) {
	zipFile, err := openOSFile(destZipPath)
	if err != nil {
		return nil, nil, err
	}
	return zipFile, zip.NewWriter(zipFile), nil
}

// openOSFile creates or truncates the destination file along with ensuring parent dir exists
func openOSFile(destinationPath string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(destinationPath), archiveDirPerm); err != nil { //nolint:gosec // directory created by application under controlled path
		return nil, fmt.Errorf("ensure dir: %w", err)
	}
	outputFile, err := os.Create(destinationPath) //nolint:gosec // path is constructed by the application
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	return outputFile, nil
}
