package skillcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skillmesh/skillmesh/pkg/cliui"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <id-or-name>",
		Short: "Archive a skill so it stops appearing in searches and prompts",
		Long: `Mark a skill group as archived. Archived skills keep their full version
history and can still be fetched by id, but are excluded from listings,
searches, and prompt injection.

Examples:
  skillmesh skill archive extract-csv-data`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(cmd, args[0])
		},
	}

	return cmd
}

func runArchive(cmd *cobra.Command, idOrName string) error {
	ctx := cmd.Context()
	configDir, _ := cmd.Flags().GetString("config-dir")

	st, err := openStore(ctx, configDir)
	if err != nil {
		return err
	}
	defer st.Close()

	group, err := resolveGroup(ctx, st, idOrName, false)
	if err != nil {
		return err
	}
	if group.IsArchived {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s is already archived\n", cliui.SuccessMark, group.Name)
		return nil
	}

	if err := st.ArchiveGroup(ctx, group.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Archived %s (%s)\n", cliui.SuccessMark, group.Name, group.ID)
	return nil
}
