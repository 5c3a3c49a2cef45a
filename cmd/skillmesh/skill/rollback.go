package skillcmder

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/skillmesh/skillmesh/pkg/cliui"
)

func newRollbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <group-id> <version>",
		Short: "Move a skill's production pointer to an earlier version",
		Long: `Point a skill group's production version at an earlier version number.
The version itself is untouched; rollback only moves the pointer.

Examples:
  skillmesh skill rollback 1f8a... 2`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollback(cmd, args[0], args[1])
		},
	}

	return cmd
}

func runRollback(cmd *cobra.Command, groupID, versionArg string) error {
	versionNumber, err := strconv.Atoi(versionArg)
	if err != nil {
		return fmt.Errorf("invalid version number %q", versionArg)
	}

	ctx := cmd.Context()
	configDir, _ := cmd.Flags().GetString("config-dir")

	st, err := openStore(ctx, configDir)
	if err != nil {
		return err
	}
	defer st.Close()

	versions, err := st.ListVersions(ctx, groupID)
	if err != nil {
		return err
	}

	for _, v := range versions {
		if v.Version == versionNumber {
			if err := st.SetProductionVersion(ctx, groupID, v.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Production now points at version %d\n",
				cliui.SuccessMark, versionNumber)
			return nil
		}
	}
	return fmt.Errorf("group %s has no version %d", groupID, versionNumber)
}
