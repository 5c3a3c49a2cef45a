package skillcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skillmesh/skillmesh/pkg/cliui"
	resourcefs "github.com/skillmesh/skillmesh/pkg/resources/filesystem"
)

type deleteCommander struct {
	force bool
}

func newDeleteCmd() *cobra.Command {
	cmder := &deleteCommander{}

	cmd := &cobra.Command{
		Use:   "delete <id-or-name>",
		Short: "Permanently delete a skill and all its versions",
		Long: `Hard-delete a skill group: every version, grant, feedback and usage
record goes with it, along with any resource bundles on disk. There is no
undo; prefer 'skillmesh skill archive' unless the data really has to go.

Examples:
  skillmesh skill delete extract-csv-data --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&cmder.force, "force", false, "Confirm the permanent deletion")

	return cmd
}

func (c *deleteCommander) run(cmd *cobra.Command, idOrName string) error {
	ctx := cmd.Context()
	configDir, _ := cmd.Flags().GetString("config-dir")

	cfg, err := loadConfig(configDir)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, configDir)
	if err != nil {
		return err
	}
	defer st.Close()

	group, err := resolveGroup(ctx, st, idOrName, true)
	if err != nil {
		return err
	}

	if !c.force {
		return fmt.Errorf("refusing to delete %s (%d versions) without --force; consider 'skill archive' instead",
			group.Name, len(group.Versions))
	}

	if cfg.Skills.ResourceDir != "" {
		res, err := resourcefs.New(cfg.Skills.ResourceDir)
		if err == nil {
			for _, v := range group.Versions {
				if v.ResourceURI == "" {
					continue
				}
				if derr := res.Delete(ctx, group.ID, v.ID); derr != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s could not remove resources for version %d: %v\n",
						cliui.FailMark, v.Version, derr)
				}
			}
		}
	}

	if err := st.DeleteGroup(ctx, group.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s (%s), %d versions\n",
		cliui.SuccessMark, group.Name, group.ID, len(group.Versions))
	return nil
}
