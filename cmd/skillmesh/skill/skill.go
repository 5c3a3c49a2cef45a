// Package skillcmder provides the `skillmesh skill` CLI commands for
// inspecting and managing stored skills.
package skillcmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skillmesh/skillmesh/pkg/config"
	"github.com/skillmesh/skillmesh/pkg/skill"
	"github.com/skillmesh/skillmesh/pkg/store"
	"github.com/skillmesh/skillmesh/pkg/store/postgres"
	"github.com/skillmesh/skillmesh/pkg/store/sqlite"
)

// NewSkillCmd creates the parent skill command.
func NewSkillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skill",
		Short: "List, inspect, and roll back stored skills",
		Long: `Inspect the skill store directly.

Examples:
  skillmesh skill list
  skillmesh skill list --agent web-agent
  skillmesh skill show extract-csv-data
  skillmesh skill rollback <group-id> 2
  skillmesh skill archive extract-csv-data
  skillmesh skill delete extract-csv-data --force`,
	}

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newRollbackCmd())
	cmd.AddCommand(newArchiveCmd())
	cmd.AddCommand(newDeleteCmd())

	return cmd
}

// resolveGroup looks a group up by id first, then by exact name across all
// owners. Archived groups resolve too; the commands here exist to manage
// them.
func resolveGroup(ctx context.Context, st store.Store, idOrName string, includeVersions bool) (*skill.Group, error) {
	group, err := st.GetGroup(ctx, idOrName, includeVersions)
	if !store.IsNotFound(err) {
		return group, err
	}

	groups, err := st.ListGroups(ctx, store.GroupFilter{IncludeArchived: true})
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if g.Name == idOrName {
			return st.GetGroup(ctx, g.ID, includeVersions)
		}
	}
	return nil, store.ErrNotFound{Kind: "skill group", ID: idOrName}
}

func loadConfig(configDir string) (*config.Config, error) {
	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, err
	}
	return config.Load(v), nil
}

// openStore builds the configured store driver. The inmemory provider is
// rejected here: a fresh empty store is useless to inspect.
func openStore(ctx context.Context, configDir string) (store.Store, error) {
	cfg, err := loadConfig(configDir)
	if err != nil {
		return nil, err
	}

	switch cfg.Storage.Provider {
	case "sqlite", "":
		return sqlite.New(cfg.Storage.SQLitePath)
	case "postgres":
		return postgres.New(ctx, cfg.Storage.PostgresDSN)
	case "inmemory":
		return nil, fmt.Errorf("inmemory storage holds no data outside a running server")
	default:
		return nil, fmt.Errorf("unknown storage provider: %q", cfg.Storage.Provider)
	}
}
