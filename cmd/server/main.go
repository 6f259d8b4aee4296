package main

import (
	"os"

	"github.com/sirdesai22/leadsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
