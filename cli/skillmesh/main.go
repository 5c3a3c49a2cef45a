package main

import (
	"os"

	skillmeshcmder "github.com/skillmesh/skillmesh/cmd/skillmesh"
)

func main() {
	cmd := skillmeshcmder.NewSkillmeshCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
