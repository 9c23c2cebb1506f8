package main

import (
	"os"

	"github.com/poltergeist/summon/pkg/cli"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := cli.ExecuteWithVersion(version); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
