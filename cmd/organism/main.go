package main

import (
	"os"

	"github.com/rcliao/organism/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(cli.ExitSetup)
	}
}
