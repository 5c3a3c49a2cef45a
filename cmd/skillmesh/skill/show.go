package skillcmder

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/skillmesh/skillmesh/pkg/skill"
)

type showCommander struct {
	markdown bool
}

func newShowCmd() *cobra.Command {
	cmder := &showCommander{}

	cmd := &cobra.Command{
		Use:   "show <id-or-name>",
		Short: "Show a skill with its version history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&cmder.markdown, "markdown", false, "Print the production version's markdown content")

	return cmd
}

func (c *showCommander) run(cmd *cobra.Command, idOrName string) error {
	ctx := cmd.Context()
	configDir, _ := cmd.Flags().GetString("config-dir")

	st, err := openStore(ctx, configDir)
	if err != nil {
		return err
	}
	defer st.Close()

	group, err := resolveGroup(ctx, st, idOrName, true)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Name:        %s\n", group.Name)
	fmt.Fprintf(out, "ID:          %s\n", group.ID)
	fmt.Fprintf(out, "Type:        %s\n", group.Type)
	fmt.Fprintf(out, "Scope:       %s\n", group.Scope)
	if group.OwnerAgentName != "" {
		fmt.Fprintf(out, "Agent:       %s\n", group.OwnerAgentName)
	}
	if group.Category != "" {
		fmt.Fprintf(out, "Category:    %s\n", group.Category)
	}
	fmt.Fprintf(out, "Description: %s\n", group.Description)
	fmt.Fprintf(out, "Usage:       %d ok / %d failed / %d corrected\n",
		group.SuccessCount, group.FailureCount, group.CorrectionCount)

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tCREATED\tBY\tREASON")
	for _, v := range group.Versions {
		marker := ""
		if v.ID == group.ProductionVersionID {
			marker = " *"
		}
		fmt.Fprintf(w, "%d%s\t%s\t%s\t%s\n",
			v.Version, marker, v.CreatedAt.Format("2006-01-02 15:04"), v.CreatedBy, v.CreationReason)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if c.markdown {
		if prod := productionVersion(group); prod != nil {
			fmt.Fprintf(out, "\n%s\n", prod.MarkdownContent)
		}
	}
	return nil
}

func productionVersion(group *skill.Group) *skill.Version {
	if group.ProductionVersion != nil {
		return group.ProductionVersion
	}
	for _, v := range group.Versions {
		if v.ID == group.ProductionVersionID {
			return v
		}
	}
	return nil
}
