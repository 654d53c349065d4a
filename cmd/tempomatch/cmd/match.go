package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vjranagit/tempomatch/pkg/matching"
	"github.com/vjranagit/tempomatch/pkg/seriesio"
	"github.com/vjranagit/tempomatch/pkg/types"
)

var (
	matchWindow       time.Duration
	matchAsym         string
	matchDistance     bool
	matchDuplicateNaN bool
	matchJoin         bool
)

var matchCmd = &cobra.Command{
	Use:   "match ANCHOR.csv OTHER.csv [OTHER.csv...]",
	Short: "Match CSV series against an anchor",
	Long: `Reads timestamp,value CSV files and matches every other series
against the anchor. Without --join one table per other series is written;
with --join a single inner-joined table is written.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runMatch,
}

func init() {
	matchCmd.Flags().DurationVar(&matchWindow, "window", 0, "maximum distance of a valid match (0 disables)")
	matchCmd.Flags().StringVar(&matchAsym, "asym", "", `exclude a window edge: "<=" or ">="`)
	matchCmd.Flags().BoolVar(&matchDistance, "return-distance", false, "add the signed distance in days")
	matchCmd.Flags().BoolVar(&matchDuplicateNaN, "duplicate-nan", false, "keep only the closest anchor per matched sample")
	matchCmd.Flags().BoolVar(&matchJoin, "join", false, "inner-join all other series into one table")
	rootCmd.AddCommand(matchCmd)
}

func runMatch(cmd *cobra.Command, args []string) error {
	asym, err := matching.ParseAsymmetry(matchAsym)
	if err != nil {
		return err
	}

	opts := []matching.Option{matching.WithWindow(matchWindow), matching.WithAsymmetry(asym)}
	if matchDistance {
		opts = append(opts, matching.WithDistance())
	}
	if matchDuplicateNaN {
		opts = append(opts, matching.WithDuplicateNaN())
	}
	matcher, err := matching.New(opts...)
	if err != nil {
		return err
	}

	series := make([]types.Series, len(args))
	for i, path := range args {
		if series[i], err = seriesio.ReadFile(path); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if matchJoin {
		joined, err := matcher.MatchJoin(series[0], series[1:]...)
		if err != nil {
			return err
		}
		return seriesio.WriteJoined(out, joined)
	}

	results, err := matcher.MatchAll(context.Background(), series[0], series[1:]...)
	if err != nil {
		return err
	}
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(out)
		}
		if err := seriesio.WriteResult(out, r); err != nil {
			return err
		}
	}
	if verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "matched %d series against %s\n", len(results), args[0])
	}
	return nil
}
