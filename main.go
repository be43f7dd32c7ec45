package main

import (
	"os"

	"github.com/hfujita/wastematch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
