package processor

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"feeder/internal/bundle"
	fileutil "feeder/internal/file"
)

// Result describes what happened to one unit of an archived bundle.
type Result struct {
	File string `json:"file"`
	// Source is where the data was read from; the holding area once claimed.
	Source  string `json:"source,omitempty"`
	Entry   string `json:"entry,omitempty"`
	Skipped string `json:"skipped,omitempty"`
	// Oversize marks files above MaxContentLength; they are still archived.
	Oversize bool   `json:"oversize,omitempty"`
	Err      string `json:"error,omitempty"`
}

// ArchiverOptions configures an Archiver.
type ArchiverOptions struct {
	// OutputRoot is used for bundles that carry none.
	OutputRoot string
	// Files at or below MinContentLength bytes are skipped.
	MinContentLength int64
	// MaxContentLength flags larger files; 0 or less disables the check.
	MaxContentLength int64
	// HoldingArea, when set, receives each file before it is read. Files
	// that cannot be moved there are left to whoever claimed them.
	HoldingArea string
	// DoneArea, when set, receives files once archived. Without it held
	// files are removed and unheld files stay in place.
	DoneArea string
	// ErrorArea, when set, receives files that failed, under <bundleId>/.
	ErrorArea string
}

// Archiver packs the files of a bundle into <outputRoot>/<bundleId>.zip.
type Archiver struct {
	opts ArchiverOptions
	open func(name string) (*os.File, error)
}

func NewArchiver(opts ArchiverOptions) *Archiver {
	return &Archiver{opts: opts, open: os.Open}
}

func (a *Archiver) Process(ctx context.Context, b *bundle.Bundle) (bool, error) {
	results, err := a.Archive(ctx, b)
	if err != nil {
		return false, err
	}
	for _, r := range results {
		if r.Err != "" {
			return false, nil
		}
	}
	return true, nil
}

// Archive writes the zip and returns one Result per unit. Units that fail
// are marked FailedToProcess on b. Files are disposed of only once the zip
// is in place; when it cannot be written they stay held for the retry.
func (a *Archiver) Archive(ctx context.Context, b *bundle.Bundle) ([]Result, error) {
	if b.IsEmpty() {
		return nil, nil
	}
	root := bundle.Deref(b.OutputRoot)
	if root == "" {
		root = a.opts.OutputRoot
	}
	if root == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoOutputRoot, b.ID)
	}
	dest := filepath.Join(root, b.ID+".zip")
	eatPrefix := bundle.Deref(b.EatPrefix)

	units := b.Units()
	results := make([]Result, len(units))
	for i, u := range units {
		results[i] = a.claim(u.FileName, entryName(u.FileName, eatPrefix), b.ErrorCount > 0)
	}
	err := fileutil.WriteAtomic(dest, func(w io.Writer) error {
		zw := zip.NewWriter(w)
		for i := range results {
			if err := ctx.Err(); err != nil {
				return err //nolint:wrapcheck
			}
			if results[i].Skipped == "" {
				a.addFile(zw, &results[i])
			}
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("close zip writer: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("bundle_id", b.ID).Str("dest", dest).Msg("archive failed")
		return results, err
	}

	failed := 0
	for i, r := range results {
		if r.Err == "" {
			a.settle(r)
			continue
		}
		failed++
		u := units[i]
		_ = b.SetUnitFlags(i, u.FailedToParse, true)
		a.quarantine(b.ID, r)
	}
	log.Info().Str("bundle_id", b.ID).Str("dest", dest).Int("units", len(units)).Int("failed", failed).Msg("bundle archived")
	return results, nil
}

// claim locates a unit's file and moves it to the holding area. A retried
// bundle may find its files already held from the earlier attempt.
func (a *Archiver) claim(name, entry string, retry bool) Result {
	result := Result{File: name, Source: name, Entry: entry}
	held := ""
	if a.opts.HoldingArea != "" {
		held = filepath.Join(a.opts.HoldingArea, filepath.FromSlash(entry))
	}

	info, err := os.Stat(name)
	if os.IsNotExist(err) && retry && held != "" {
		if info, err = os.Stat(held); err == nil {
			result.Source = held
		}
	}
	switch {
	case os.IsNotExist(err):
		result.Skipped = "missing"
		log.Warn().Str("file", name).Msg("file vanished before processing")
		return result
	case err != nil:
		result.Err = err.Error()
		log.Warn().Str("file", name).Err(err).Msg("stat failed")
		return result
	case info.IsDir():
		result.Skipped = "directory"
		log.Debug().Str("file", name).Msg("directory entry ignored")
		return result
	}
	if held == "" || result.Source == held {
		return result
	}
	if err := fileutil.MoveFile(held, name); err != nil {
		result.Skipped = "not claimed"
		log.Error().Err(err).Str("file", name).Str("holding", held).Msg("could not move file to holding area")
		return result
	}
	result.Source = held
	return result
}

// addFile copies one claimed file into the zip, filling in r.
func (a *Archiver) addFile(zw *zip.Writer, r *Result) {
	name := r.Source
	info, err := os.Stat(name)
	switch {
	case err != nil:
		r.Err = err.Error()
		log.Warn().Str("file", name).Err(err).Msg("stat failed")
		return
	case info.Size() <= a.opts.MinContentLength:
		r.Skipped = "too small"
		log.Debug().Str("file", name).Int64("size", info.Size()).Msg("file below minimum content length")
		return
	}
	if a.opts.MaxContentLength > 0 && info.Size() > a.opts.MaxContentLength {
		r.Oversize = true
		log.Warn().Str("file", name).Int64("size", info.Size()).Int64("max", a.opts.MaxContentLength).Msg("file above maximum content length")
	}

	src, err := a.open(name)
	if err != nil {
		r.Err = err.Error()
		log.Warn().Str("file", name).Err(err).Msg("open failed")
		return
	}
	defer func() { _ = src.Close() }()

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		r.Err = err.Error()
		return
	}
	header.Name = r.Entry
	header.Method = zip.Deflate
	zipEntryWriter, err := zw.CreateHeader(header)
	if err != nil {
		r.Err = err.Error()
		log.Warn().Str("file", name).Err(err).Msg("zip entry create failed")
		return
	}
	if _, err := io.Copy(zipEntryWriter, src); err != nil {
		r.Err = err.Error()
		log.Warn().Str("file", name).Err(err).Msg("copy into zip failed")
	}
}

// entryName strips eatPrefix from name and makes it a relative slash path.
func entryName(name, eatPrefix string) string {
	entry := name
	if eatPrefix != "" {
		entry = strings.TrimPrefix(entry, eatPrefix)
	}
	entry = strings.TrimLeft(filepath.ToSlash(entry), "/")
	if entry == "" {
		return filepath.Base(name)
	}
	return entry
}

// settle disposes of a file that was archived or deliberately skipped.
func (a *Archiver) settle(r Result) {
	switch r.Skipped {
	case "missing", "directory", "not claimed":
		return
	}
	held := r.Source != r.File
	switch {
	case a.opts.DoneArea != "":
		dest := filepath.Join(a.opts.DoneArea, filepath.FromSlash(r.Entry))
		if err := fileutil.MoveFile(dest, r.Source); err != nil {
			log.Warn().Err(err).Str("file", r.Source).Str("dest", dest).Msg("could not move file to done area")
		}
	case held:
		if err := os.Remove(r.Source); err != nil {
			log.Warn().Err(err).Str("file", r.Source).Msg("could not remove held file")
		}
	}
}

// quarantine moves a failed file under <ErrorArea>/<bundleId>/.
func (a *Archiver) quarantine(bundleID string, r Result) {
	if a.opts.ErrorArea == "" {
		return
	}
	dest := filepath.Join(a.opts.ErrorArea, bundleID, filepath.FromSlash(r.Entry))
	if err := fileutil.MoveFile(dest, r.Source); err != nil {
		log.Warn().Err(err).Str("file", r.Source).Str("dest", dest).Msg("could not move failed file to error area")
	}
}
