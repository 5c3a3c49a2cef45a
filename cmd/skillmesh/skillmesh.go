// Package skillmeshcmder
package skillmeshcmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/skillmesh/skillmesh/cmd/skillmesh/config"
	servecmder "github.com/skillmesh/skillmesh/cmd/skillmesh/serve"
	skillcmder "github.com/skillmesh/skillmesh/cmd/skillmesh/skill"
	versioncmder "github.com/skillmesh/skillmesh/cmd/version"
)

const skillmeshLongDesc string = `Skillmesh learns reusable skills from agent task executions.

Run the service using:
  skillmesh serve          Run the learning worker and MCP endpoint

Inspect skills using:
  skillmesh skill list     List stored skills
  skillmesh skill show     Show a skill with its versions
  skillmesh skill rollback Move a skill's production pointer`

const skillmeshShortDesc string = "Skillmesh - Agent Skill Learning"

func NewSkillmeshCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skillmesh",
		Short: skillmeshShortDesc,
		Long:  skillmeshLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Directory holding config.toml (default: current directory)")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(skillcmder.NewSkillCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
