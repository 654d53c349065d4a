package main

import (
	"os"

	"github.com/vjranagit/tempomatch/cmd/tempomatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
