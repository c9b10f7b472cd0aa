// Package migrate rewrites dataset files offline: relative image paths and
// review subsets.
//
// Malformed input lines are logged and left out of the output, like at server
// startup. Any stored id is dropped.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/maruel/annodb/internal/jsonldb"
	"github.com/maruel/annodb/internal/models"
)

// RebaseStats reports what RebasePaths did.
type RebaseStats struct {
	Read      int
	Skipped   int
	Rebased   int
	Unchanged int
}

// RebasePaths copies the dataset in to out, cutting each image.path so that it
// starts at the first directory named marker. Absolute paths of the machine
// that produced the dataset become relative to the static directory. Paths
// without marker are kept.
func RebasePaths(ctx context.Context, in, out, marker string) (RebaseStats, error) {
	var st RebaseStats
	if marker == "" {
		return st, fmt.Errorf("marker must not be empty")
	}
	rows, err := readRows(ctx, in, &st.Skipped)
	if err != nil {
		return st, err
	}
	st.Read = len(rows)
	for _, row := range rows {
		img, ok := row.Record.Object("image")
		if !ok {
			st.Unchanged++
			continue
		}
		p, _ := img["path"].(string)
		if rel, ok := rebase(p, marker); ok {
			img["path"] = rel
			st.Rebased++
		} else {
			st.Unchanged++
		}
	}
	if err := ctx.Err(); err != nil {
		return st, err
	}
	if err := jsonldb.WriteFile(out, rows); err != nil {
		return st, err
	}
	return st, nil
}

// rebase returns p from the first path element equal to marker, using forward
// slashes.
func rebase(p, marker string) (string, bool) {
	parts := strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' })
	for i, part := range parts {
		if part == marker && i < len(parts)-1 {
			return strings.Join(parts[i:], "/"), true
		}
	}
	return "", false
}

func readRows(ctx context.Context, path string, skipped *int) ([]models.Row, error) {
	file := filepath.Base(path)
	rows, err := jsonldb.ReadFile[models.Row](path, func(line int, err error) {
		*skipped++
		slog.WarnContext(ctx, "Skipping malformed line", "file", file, "line", line, "err", err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return rows, nil
}
