package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vjranagit/tempomatch/pkg/storage"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show series store statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := storage.NewStorage(cfg.ToStorageConfig(), logger.Named("storage"))
	if err != nil {
		return err
	}
	defer store.Close()

	st := store.Stats()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Store:    %s\n", cfg.Storage.Path)
	fmt.Fprintf(out, "Series:   %s\n", humanize.Comma(int64(st.Series)))
	fmt.Fprintf(out, "Samples:  %s\n", humanize.Comma(st.Samples))
	fmt.Fprintf(out, "LSM size: %s\n", humanize.Bytes(uint64(st.LSMSize)))
	fmt.Fprintf(out, "VLog:     %s\n", humanize.Bytes(uint64(st.VLogSize)))
	return nil
}
