// jmodinfo prints the header version and entry catalog of a module
// container, or extracts its sections to a directory. FILE may be an
// http(s) URL served with range support.
//
//	jmodinfo [--section NAME]... [--digest] [--extract DIR] FILE|URL
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"

	"github.com/meigma/jmod"
	"github.com/meigma/jmod/cache"
	jmodhttp "github.com/meigma/jmod/http"
)

type config struct {
	sections  []string
	digest    bool
	extract   string
	overwrite bool
	workers   int
	verbose   bool
	cacheDir  string
	path      string
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (*config, error) {
	cfg := &config{}
	flagSet := pflag.NewFlagSet("jmodinfo", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringSliceVarP(&cfg.sections, "section", "s", nil, "only show or extract these sections (e.g. classes, CONFIG)")
	flagSet.BoolVar(&cfg.digest, "digest", false, "print the sha256 digest of each entry")
	flagSet.StringVarP(&cfg.extract, "extract", "x", "", "extract entries below this directory instead of listing them")
	flagSet.BoolVar(&cfg.overwrite, "overwrite", false, "overwrite existing files when extracting")
	flagSet.IntVar(&cfg.workers, "workers", 0, "files written concurrently when extracting (0 = GOMAXPROCS)")
	flagSet.StringVar(&cfg.cacheDir, "cache-dir", "", "cache blocks of remote containers in this directory")
	flagSet.BoolVarP(&cfg.verbose, "verbose", "v", false, "log debug records to stderr")
	flagSet.Usage = func() {
		fmt.Fprintf(stderr, "usage: jmodinfo [flags] FILE|URL\n\n%s", flagSet.FlagUsages())
	}

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return nil, fmt.Errorf("expected one container path, got %d arguments", flagSet.NArg())
	}
	cfg.path = flagSet.Arg(0)
	return cfg, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	cfg, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	sections, err := parseSections(cfg.sections)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	f, err := openContainer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer f.Close()

	if cfg.extract != "" {
		stats, err := f.Extract(ctx, cfg.extract,
			jmod.ExtractWithSections(sections...),
			jmod.ExtractWithOverwrite(cfg.overwrite),
			jmod.ExtractWithWorkers(cfg.workers),
		)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "extracted %d files (%d bytes), skipped %d\n", stats.FileCount, stats.TotalBytes, stats.Skipped)
		return nil
	}

	return list(stdout, f, sections, cfg.digest)
}

func openContainer(ctx context.Context, cfg *config, logger *slog.Logger) (*jmod.File, error) {
	if !strings.HasPrefix(cfg.path, "http://") && !strings.HasPrefix(cfg.path, "https://") {
		return jmod.Open(cfg.path, jmod.WithLogger(logger))
	}
	srcOpts := []jmodhttp.Option{jmodhttp.WithLogger(logger), jmodhttp.WithReadContext(ctx)}
	if cfg.cacheDir != "" {
		c, err := cache.New(cfg.cacheDir, cache.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		srcOpts = append(srcOpts, jmodhttp.WithCache(c))
	}
	return jmodhttp.Container(ctx, cfg.path, srcOpts, jmod.WithLogger(logger))
}

func parseSections(names []string) ([]jmod.Section, error) {
	sections := make([]jmod.Section, 0, len(names))
	for _, name := range names {
		s, err := jmod.ParseSectionName(name)
		if err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}
	return sections, nil
}

func list(w io.Writer, f *jmod.File, sections []jmod.Section, withDigest bool) error {
	fmt.Fprintf(w, "version %s\n", f.Version())

	keep := make(map[jmod.Section]bool, len(sections))
	for _, s := range sections {
		keep[s] = true
	}

	for e, err := range f.Entries() {
		if err != nil {
			return err
		}
		if len(keep) > 0 && !keep[e.Section] {
			continue
		}
		if !withDigest {
			fmt.Fprintf(w, "%-12s %10d %s\n", e.Section, e.Size, e.Name)
			continue
		}
		d, err := f.Digest(e.Section, e.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%-12s %10d %s %s\n", e.Section, e.Size, d, e.Name)
	}
	return nil
}
