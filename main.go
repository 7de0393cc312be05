// The main package for the layerpull executable.
package main

import (
	"os"

	"github.com/layertools/layerpull/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
