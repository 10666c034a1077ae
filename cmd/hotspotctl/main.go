package main

import (
	"os"

	"github.com/miradorstack/mirador-hotspots/cmd/hotspotctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
