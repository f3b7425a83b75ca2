package job

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"docclassifier/internal/archive"
	fileutil "docclassifier/internal/file"
	"docclassifier/internal/oracle"
	"docclassifier/internal/report"

	"github.com/rs/zerolog/log"
)

// run is the body of a job worker. It always leaves the job in a terminal
// state and writes the manifest.
func (m *Manager) run(id string) {
	ctx := m.baseContext()
	defer m.writeManifest(id)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job_id", id).Interface("panic", r).Msg("job worker panicked")
			m.fail(id, fmt.Errorf("internal error: %v", r))
		}
	}()

	if m.semaphore != nil {
		select {
		case m.semaphore <- struct{}{}:
			defer func() { <-m.semaphore }()
		case <-ctx.Done():
			m.cancelled(id, errShutdown)
			return
		}
	}

	err := m.process(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, errCancelled), errors.Is(err, errShutdown):
		m.cancelled(id, err)
	case ctx.Err() != nil:
		m.cancelled(id, errShutdown)
	default:
		m.fail(id, err)
	}
}

func (m *Manager) process(ctx context.Context, id string) error {
	var settings Settings
	err := m.store.Update(id, func(j *Job) {
		transition(j, Running{})
		j.Progress.Pct = 1
		j.Progress.Message = "Starting…"
		settings = j.Settings
	})
	if err != nil {
		return err
	}
	paths := m.layout.job(id)
	m.logf(id, "Job %s started. DPI=%d, delay=%s, model=%s", id, settings.DPI, settings.Delay, settings.Model)

	pdfs, err := fileutil.ListByExt(paths.input, ".pdf")
	if err != nil {
		return fmt.Errorf("list uploads: %w", err)
	}
	if len(pdfs) == 0 {
		return ErrNoDocuments
	}

	estimates := m.estimatePages(id, pdfs)
	folders := documentFolders(pdfs)

	var rows []report.Row
	for _, pdf := range pdfs {
		if err := m.checkCancel(ctx, id); err != nil {
			return err
		}
		docDir := filepath.Join(paths.output, folders[pdf])
		docRows, err := m.processDocument(ctx, id, docDir, pdf, settings, estimates[pdf])
		rows = append(rows, docRows...)
		if err != nil {
			return err
		}
	}

	if err := m.checkCancel(ctx, id); err != nil {
		return err
	}
	artifacts, err := m.finalize(ctx, id, paths, rows)
	if err != nil {
		return err
	}

	_ = m.store.Update(id, func(j *Job) {
		if transition(j, Done{Artifacts: artifacts}) {
			j.Progress.Pct = 100
			j.Progress.Message = "Complete"
		}
	})
	m.logf(id, "Job finished successfully.")
	return nil
}

// estimatePages counts pages up front so progress has a denominator before
// rendering starts. Documents that cannot be counted are left out and
// reconciled once rendered.
func (m *Manager) estimatePages(id string, pdfs []string) map[string]int {
	estimates := make(map[string]int, len(pdfs))
	total := 0
	for _, pdf := range pdfs {
		n, err := m.renderer.PageCount(pdf)
		if err != nil || n <= 0 {
			log.Debug().Str("job_id", id).Str("pdf", filepath.Base(pdf)).Err(err).Msg("page count unavailable")
			continue
		}
		estimates[pdf] = n
		total += n
	}
	_ = m.store.Update(id, func(j *Job) { j.Progress.Total = total })
	return estimates
}

// documentFolders names one output folder per document after its stem.
// Stems that collide ignoring case, such as a.pdf and a.PDF, get a numeric
// suffix so no two documents share a folder.
func documentFolders(pdfs []string) map[string]string {
	folders := make(map[string]string, len(pdfs))
	taken := make(map[string]bool, len(pdfs))
	for _, pdf := range pdfs {
		name := filepath.Base(pdf)
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		folder := stem
		for n := 2; taken[strings.ToLower(folder)]; n++ {
			folder = fmt.Sprintf("%s_%d", stem, n)
		}
		taken[strings.ToLower(folder)] = true
		folders[pdf] = folder
	}
	return folders
}

func (m *Manager) processDocument(ctx context.Context, id, docDir, pdf string, settings Settings, estimate int) ([]report.Row, error) {
	name := filepath.Base(pdf)

	m.logf(id, "Processing: %s", name)
	for _, sub := range documentDirs {
		if err := fileutil.EnsureDir(filepath.Join(docDir, filepath.FromSlash(sub))); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}

	pages, err := m.renderer.Render(ctx, pdf, settings.DPI)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	m.reconcileTotal(id, estimate, len(pages))

	rows := make([]report.Row, 0, len(pages))
	for _, page := range pages {
		if err := m.checkCancel(ctx, id); err != nil {
			return rows, err
		}
		_ = m.store.Update(id, func(j *Job) {
			j.Progress.Message = fmt.Sprintf("%s: page %d/%d", name, page.Number, len(pages))
			j.Progress.recompute()
		})

		verdict, err := m.classify(ctx, page.PNG, settings.Model)
		if err != nil {
			if ctx.Err() != nil {
				return rows, errShutdown
			}
			m.warnf(id, "Page %d: classification error: %v", page.Number, err)
			m.advance(id)
			continue
		}

		placement := Place(verdict.IsReceipt, verdict.HasStamp)
		target := filepath.Join(docDir, filepath.FromSlash(placement.Dir), fmt.Sprintf("page_%d.png", page.Number))
		if err := fileutil.WriteBytesAtomic(target, page.PNG); err != nil {
			return rows, fmt.Errorf("write page %d of %s: %w", page.Number, name, err)
		}
		m.logf(id, "  -> Filed page %d as %s", page.Number, placement.Label)

		rows = append(rows, report.Row{
			SourcePDF:    name,
			Page:         page.Number,
			Status:       string(placement.Label),
			IsReceipt:    verdict.IsReceipt,
			HasStamp:     verdict.HasStamp,
			StampDetails: verdict.StampDetails,
			DocumentData: verdict.DocumentDataText(),
		})
		m.advance(id)

		if settings.Delay > 0 {
			pause(ctx, settings.Delay)
		}
	}

	if err := fileutil.Move(pdf, filepath.Join(docDir, name)); err != nil {
		return rows, fmt.Errorf("move %s: %w", name, err)
	}
	m.logf(id, "Completed: %s", name)
	return rows, nil
}

func (m *Manager) classify(ctx context.Context, png []byte, model string) (oracle.Verdict, error) {
	if m.oracleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.oracleTimeout)
		defer cancel()
	}
	return m.classifier.Classify(ctx, png, model)
}

// reconcileTotal keeps processed <= total once a document's real page
// count is known.
func (m *Manager) reconcileTotal(id string, estimate, rendered int) {
	if estimate == rendered {
		return
	}
	_ = m.store.Update(id, func(j *Job) {
		j.Progress.Total += rendered - estimate
		if j.Progress.Total < j.Progress.Processed {
			j.Progress.Total = j.Progress.Processed
		}
		j.Progress.recompute()
	})
}

func (m *Manager) advance(id string) {
	_ = m.store.Update(id, func(j *Job) {
		j.Progress.Processed++
		if j.Progress.Total < j.Progress.Processed {
			j.Progress.Total = j.Progress.Processed
		}
		j.Progress.recompute()
	})
}

func (m *Manager) checkCancel(ctx context.Context, id string) error {
	if ctx.Err() != nil {
		return errShutdown
	}
	if m.store.CancelRequested(id) {
		return errCancelled
	}
	return nil
}

// finalize writes the reports and builds the archives.
func (m *Manager) finalize(ctx context.Context, id string, paths jobPaths, rows []report.Row) (Artifacts, error) {
	var art Artifacts
	_ = m.store.Update(id, func(j *Job) { j.Progress.Message = "Packaging results" })

	if len(rows) > 0 {
		csvPath := filepath.Join(paths.dir, report.CSVFileName)
		if err := report.WriteCSV(csvPath, rows); err != nil {
			return Artifacts{}, fmt.Errorf("write csv: %w", err)
		}
		art.CSV = csvPath
		m.logf(id, "CSV saved: %s", report.CSVFileName)

		xlsxPath := filepath.Join(paths.dir, report.XLSXFileName)
		if err := report.WriteXLSX(xlsxPath, rows); err != nil {
			m.warnf(id, "XLSX report skipped: %v", err)
		} else {
			art.XLSX = xlsxPath
		}
	}

	zips, err := archive.BuildSet(ctx, paths.output, paths.zips, archive.DefaultSpecs())
	if err != nil {
		return Artifacts{}, fmt.Errorf("build archives: %w", err)
	}
	art.Zips = zips
	m.logf(id, "Zips created.")
	return art, nil
}

func (m *Manager) fail(id string, err error) {
	_ = m.store.Update(id, func(j *Job) {
		if transition(j, Failed{Err: err.Error()}) {
			j.Progress.Message = "Error"
			j.Progress.Pct = clampPct(float64(j.Progress.Pct))
		}
	})
	m.warnf(id, "Job error: %v", err)
}

func (m *Manager) cancelled(id string, reason error) {
	_ = m.store.Update(id, func(j *Job) {
		if transition(j, Cancelled{}) {
			j.Progress.Message = "Cancelled"
		}
	})
	if errors.Is(reason, errShutdown) {
		m.logf(id, "Server shutting down. Stopping.")
		return
	}
	m.logf(id, "Cancel requested. Stopping.")
}

// pause sleeps for d unless ctx ends first.
func pause(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
