package main

import (
	"os"

	"github.com/lumeview/tagrunner/cmd/tagrunner/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
