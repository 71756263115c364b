package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/aggregate"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/circadian"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/source"
)

func init() {
	rootCmd.AddCommand(timelineCmd)
	rootCmd.AddCommand(eatingCmd)
	rootCmd.AddCommand(maxFastCmd)
	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(variabilityCmd)
	rootCmd.AddCommand(latestCmd)

	timelineCmd.Flags().Bool("truncate", true, "Clamp intervals crossing the window edges")
	splitCmd.Flags().String("split", string(aggregate.SplitFastEat), "fast-eat, sleep-awake, or eat-exercise")
	variabilityCmd.Flags().String("unit", string(aggregate.UnitDay), "day or week")
	latestCmd.Flags().String("type", string(source.SampleTypeSleep), "sleep or workout")
}

// segment is one printed timeline row
type segment struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Kind     string    `json:"kind"`
	Duration string    `json:"duration"`
}

// timelineCmd prints the canonical timeline
var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Print the canonical timeline of the window",
	RunE: func(cmd *cobra.Command, args []string) error {
		truncate, _ := cmd.Flags().GetBool("truncate")
		return run(func(ctx context.Context, e *env) (interface{}, error) {
			tl, err := e.svc.Timeline(ctx, e.start, e.end, truncate)
			if err != nil && !errors.Is(err, circadian.ErrEmptyInput) {
				return nil, err
			}
			rows := []segment{}
			for _, iv := range tl.Intervals() {
				rows = append(rows, segment{
					Start:    iv.Start.In(e.loc),
					End:      iv.End.In(e.loc),
					Kind:     iv.Kind.String(),
					Duration: iv.Duration().String(),
				})
			}
			return rows, nil
		})(cmd, args)
	},
}

var eatingCmd = &cobra.Command{
	Use:   "eating",
	Short: "Total eating time per day",
	RunE: run(func(ctx context.Context, e *env) (interface{}, error) {
		return e.svc.EatingTimes(ctx, e.start, e.end)
	}),
}

var maxFastCmd = &cobra.Command{
	Use:   "max-fast",
	Short: "Longest fasting stretch per day",
	RunE: run(func(ctx context.Context, e *env) (interface{}, error) {
		return e.svc.MaxFastingTimes(ctx, e.start, e.end)
	}),
}

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split the window's time into two categories",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("split")
		split, err := aggregate.ParseSplit(name)
		if err != nil {
			return err
		}
		return run(func(ctx context.Context, e *env) (interface{}, error) {
			return e.svc.CategoryDurations(ctx, e.start, e.end, split)
		})(cmd, args)
	},
}

var variabilityCmd = &cobra.Command{
	Use:   "variability",
	Short: "Standard deviation of fasting time per day or week",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("unit")
		unit, err := aggregate.ParseUnit(name)
		if err != nil {
			return err
		}
		return run(func(ctx context.Context, e *env) (interface{}, error) {
			return e.svc.FastingVariability(ctx, e.start, e.end, unit)
		})(cmd, args)
	},
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Most recent sample of a type",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("type")
		return run(func(ctx context.Context, e *env) (interface{}, error) {
			return e.svc.LatestEvent(ctx, source.SampleType(name))
		})(cmd, args)
	},
}
