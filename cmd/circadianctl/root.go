package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/config"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/query"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/ranges"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/source/file"
	memsource "github.com/OlenaSrost/MCCircadianQueries/pkg/source/memory"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/storage"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/storage/badger"
	memstore "github.com/OlenaSrost/MCCircadianQueries/pkg/storage/memory"
)

// Global flags
var (
	samplesFile string
	cacheDir    string
	timezone    string
	startFlag   string
	endFlag     string
	dateFlag    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "circadianctl",
	Short:         "Reconstruct circadian timelines from sample files",
	Long:          `Builds the sleep / eating / exercise / fasting timeline of a window from a YAML sample file and computes statistics over it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&samplesFile, "file", "f", "", "YAML sample file (required)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "BadgerDB cache directory (default: in-memory cache)")
	rootCmd.PersistentFlags().StringVar(&timezone, "timezone", "", "Time zone for calendar days (default: local)")
	rootCmd.PersistentFlags().StringVar(&startFlag, "start", "", "Window start (RFC3339)")
	rootCmd.PersistentFlags().StringVar(&endFlag, "end", "", "Window end (RFC3339)")
	rootCmd.PersistentFlags().StringVar(&dateFlag, "date", "", "Single calendar day (YYYY-MM-DD), instead of --start/--end")
	_ = rootCmd.MarkPersistentFlagRequired("file")
}

// env is what every subcommand runs against
type env struct {
	svc   *query.Service
	store storage.Store
	loc   *time.Location
	start time.Time
	end   time.Time
}

func (e *env) Close() {
	e.svc.Close()
	e.store.Close()
}

func setup() (*env, error) {
	loc := time.Local
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", timezone, err)
		}
		loc = l
	}

	start, end, err := window(loc, time.Now())
	if err != nil {
		return nil, err
	}

	samples, version, err := file.LoadVersioned(samplesFile)
	if err != nil {
		return nil, err
	}

	var store storage.Store = memstore.New()
	if cacheDir != "" {
		store, err = badger.New(badger.Config{Path: cacheDir, MaxMemoryMB: config.DefaultMaxMemoryMB})
		if err != nil {
			return nil, err
		}
	}

	// Cached entries are only valid for this exact file content
	svc := query.NewService(memsource.New(samples...), store,
		query.WithLocation(loc), query.WithSourceID(version))
	return &env{svc: svc, store: store, loc: loc, start: start, end: end}, nil
}

// window resolves --date or --start/--end; the default is the current day
func window(loc *time.Location, now time.Time) (time.Time, time.Time, error) {
	if dateFlag != "" {
		if startFlag != "" || endFlag != "" {
			return time.Time{}, time.Time{}, fmt.Errorf("--date cannot be combined with --start/--end")
		}
		day, err := time.ParseInLocation(ranges.KeyLayout, dateFlag, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --date: %w", err)
		}
		return day, ranges.NextDay(day), nil
	}

	if startFlag == "" && endFlag == "" {
		day := ranges.StartOfDay(now.In(loc))
		return day, ranges.NextDay(day), nil
	}
	if startFlag == "" || endFlag == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("--start and --end must be given together")
	}

	start, err := time.Parse(time.RFC3339, startFlag)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, endFlag)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --end: %w", err)
	}
	return start.In(loc), end.In(loc), nil
}

// run wraps a subcommand body with setup, a timeout, and JSON output
func run(fn func(ctx context.Context, e *env) (interface{}, error)) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), config.QueryTimeout)
		defer cancel()

		result, err := fn(ctx, e)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), result)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
