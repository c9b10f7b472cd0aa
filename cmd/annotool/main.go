// Command annotool prepares dataset files for annodb.
//
// rebase-paths makes image paths relative to the static directory; sample
// extracts a review subset and copies its images.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/maruel/annodb/internal/migrate"
)

type rebaseCmd struct {
	Marker string `help:"Directory name where relative paths start" default:"imgs_EN"`
	In     string `arg:"" help:"Input dataset" type:"existingfile"`
	Out    string `arg:"" help:"Output dataset"`
}

func (c *rebaseCmd) Run(ctx context.Context) error {
	st, err := migrate.RebasePaths(ctx, c.In, c.Out, c.Marker)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Rebased", "out", c.Out, "read", st.Read, "skipped", st.Skipped, "rebased", st.Rebased, "unchanged", st.Unchanged)
	return nil
}

type sampleCmd struct {
	Count     int    `help:"Number of records to keep" default:"200"`
	PathValue string `help:"extra_info.optimal_path value kept first" default:"parallel"`
	Images    string `help:"Directory image paths are relative to; enables copying" type:"existingdir"`
	OutImages string `help:"Directory receiving the copied images"`
	Seed      uint64 `help:"Random seed (0 picks one)"`
	In        string `arg:"" help:"Input dataset" type:"existingfile"`
	Out       string `arg:"" help:"Output dataset"`
}

func (c *sampleCmd) Run(ctx context.Context) error {
	if (c.Images == "") != (c.OutImages == "") {
		return errors.New("--images and --out-images go together")
	}
	opts := migrate.SampleOptions{
		Count:        c.Count,
		PathValue:    c.PathValue,
		ImagesDir:    c.Images,
		OutImagesDir: c.OutImages,
	}
	if c.Seed != 0 {
		opts.Rand = rand.New(rand.NewPCG(c.Seed, c.Seed)) //nolint:gosec // G404: reproducible sampling
	}
	st, err := migrate.Sample(ctx, c.In, c.Out, opts)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Sampled", "out", c.Out, "read", st.Read, "skipped", st.Skipped, "matched", st.Matched,
		"selected", st.Selected, "copied", st.Copied, "missing_images", st.MissingImages, "no_image", st.NoImage)
	return nil
}

type cli struct {
	Verbose     bool      `short:"v" help:"Log debug messages"`
	RebasePaths rebaseCmd `cmd:"" help:"Make image.path relative to the static directory"`
	Sample      sampleCmd `cmd:"" help:"Extract a review subset, preferring one optimal path"`
}

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "annotool: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	var c cli
	kctx := kong.Parse(&c,
		kong.Name("annotool"),
		kong.Description("Prepare JSONL datasets for annodb."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)))
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})))
	return kctx.Run()
}
