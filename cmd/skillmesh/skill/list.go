package skillcmder

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/skillmesh/skillmesh/pkg/skill"
	"github.com/skillmesh/skillmesh/pkg/store"
)

type listCommander struct {
	agentName string
	skillType string
	scope     string
}

func newListCmd() *cobra.Command {
	cmder := &listCommander{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List skills in the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.agentName, "agent", "", "Filter by owning agent")
	cmd.Flags().StringVar(&cmder.skillType, "type", "", "Filter by skill type (learned, authored)")
	cmd.Flags().StringVar(&cmder.scope, "scope", "", "Filter by scope (agent, user, shared, global)")

	return cmd
}

func (c *listCommander) run(cmd *cobra.Command) error {
	ctx := cmd.Context()
	configDir, _ := cmd.Flags().GetString("config-dir")

	st, err := openStore(ctx, configDir)
	if err != nil {
		return err
	}
	defer st.Close()

	groups, err := st.ListGroups(ctx, store.GroupFilter{
		AgentName: c.agentName,
		Type:      skill.Type(c.skillType),
		Scope:     skill.Scope(c.scope),
	})
	if err != nil {
		return fmt.Errorf("list skills: %w", err)
	}

	if len(groups) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No skills found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tSCOPE\tVERSIONS\tDESCRIPTION")
	for _, g := range groups {
		desc := g.Description
		if len(desc) > 60 {
			desc = desc[:57] + "..."
		}
		desc = strings.ReplaceAll(desc, "\n", " ")
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", g.ID, g.Name, g.Type, g.Scope, g.VersionCount, desc)
	}
	return w.Flush()
}
