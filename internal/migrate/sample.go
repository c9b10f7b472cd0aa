package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"

	"github.com/maruel/annodb/internal/jsonldb"
	"github.com/maruel/annodb/internal/models"
)

// SampleOptions configures Sample.
type SampleOptions struct {
	// Count is the number of records wanted.
	Count int
	// PathValue is the extra_info.optimal_path value whose records are kept
	// first.
	PathValue string
	// ImagesDir and OutImagesDir enable copying the images of the selected
	// records; image.path is resolved relative to both.
	ImagesDir    string
	OutImagesDir string
	// Rand drives the selection; nil uses the process-wide source.
	Rand *rand.Rand
}

// SampleStats reports what Sample did.
type SampleStats struct {
	Read          int
	Skipped       int
	Matched       int
	Selected      int
	Copied        int
	MissingImages int
	NoImage       int
}

// Sample writes to out a subset of Count records of in.
//
// Every record whose optimal path is present and equal to PathValue is kept,
// sampled down when there are more than Count of them; the remainder is
// sampled from the other records. Selected records keep their input order. A missing image is counted
// and logged, it does not fail the run.
func Sample(ctx context.Context, in, out string, opts SampleOptions) (SampleStats, error) {
	var st SampleStats
	if opts.Count <= 0 {
		return st, fmt.Errorf("count must be positive, got %d", opts.Count)
	}
	rows, err := readRows(ctx, in, &st.Skipped)
	if err != nil {
		return st, err
	}
	st.Read = len(rows)

	var matched, others []int
	for i, row := range rows {
		var info models.Record
		if m, ok := row.Record.Object("extra_info"); ok {
			info = m
		}
		if p, ok := info.String("optimal_path"); ok && p == opts.PathValue {
			matched = append(matched, i)
		} else {
			others = append(others, i)
		}
	}
	st.Matched = len(matched)

	shuffle := rand.Shuffle
	if opts.Rand != nil {
		shuffle = opts.Rand.Shuffle
	}
	pick := func(idx []int, n int) []int {
		if n >= len(idx) {
			return idx
		}
		idx = slices.Clone(idx)
		shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		return idx[:n]
	}
	selected := pick(matched, opts.Count)
	if n := opts.Count - len(selected); n > 0 {
		selected = append(slices.Clone(selected), pick(others, n)...)
	}
	slices.Sort(selected)

	outRows := make([]models.Row, 0, len(selected))
	for _, i := range selected {
		outRows = append(outRows, rows[i])
	}
	st.Selected = len(outRows)
	if err := jsonldb.WriteFile(out, outRows); err != nil {
		return st, err
	}

	if opts.ImagesDir == "" || opts.OutImagesDir == "" {
		return st, nil
	}
	if err := os.MkdirAll(opts.OutImagesDir, 0o755); err != nil { //nolint:gosec // G301: static directories are shared
		return st, fmt.Errorf("failed to create image directory: %w", err)
	}
	for _, row := range outRows {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		p, _ := row.Record.Nested("image", "path")
		if p == "" || !filepath.IsLocal(filepath.FromSlash(p)) {
			st.NoImage++
			slog.WarnContext(ctx, "Record has no usable image path", "path", p)
			continue
		}
		src := filepath.Join(opts.ImagesDir, filepath.FromSlash(p))
		dst := filepath.Join(opts.OutImagesDir, filepath.FromSlash(p))
		switch err := copyFile(src, dst); {
		case err == nil:
			st.Copied++
		case errors.Is(err, os.ErrNotExist):
			st.MissingImages++
			slog.WarnContext(ctx, "Image not found", "path", src)
		default:
			return st, err
		}
	}
	return st, nil
}

// copyFile copies src to dst, keeping the modification time.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src) //nolint:gosec // G304: path is under the user-provided image directory
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil { //nolint:gosec // G301: static directories are shared
		return err
	}
	out, err := os.Create(dst) //nolint:gosec // G304: path is under the user-provided image directory
	if err != nil {
		return err
	}
	defer func() {
		if err2 := out.Close(); err == nil {
			err = err2
		}
		if err == nil {
			err = os.Chtimes(dst, fi.ModTime(), fi.ModTime())
		}
	}()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return nil
}
