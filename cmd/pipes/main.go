package main

import (
	"os"

	"github.com/machinefabric/pipes-go/cmd"
	"github.com/machinefabric/pipes-go/config"
)

func main() {
	rootCmd := cmd.NewRootCommand(config.NewViper())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
