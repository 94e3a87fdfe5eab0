package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func recoverSession(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	auditBus, transcripts, err := openTranscripts(ctx, *cfg)
	if err != nil {
		return err
	}
	defer auditBus.Close(ctx)

	marker := transcripts.RecoveredMarker()
	if marker == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "no abandoned session found")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "purged the abandoned session %s started %s (%s)\n", marker.SessionID, humanize.Time(marker.StartTimestamp), marker.StartTimestamp.Format("2006-01-02 15:04:05 MST"))
	return nil
}

func purge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	reason, err := cmd.Flags().GetString("reason")
	if err != nil {
		return err
	}

	auditBus, transcripts, err := openTranscripts(ctx, *cfg)
	if err != nil {
		return err
	}
	defer auditBus.Close(ctx)

	if err := transcripts.ForcePurge(ctx, reason); err != nil {
		return fmt.Errorf("unable to purge: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "purged")
	return nil
}
