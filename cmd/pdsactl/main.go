package main

import (
	"fmt"
	"os"

	"github.com/kubilitics/kubilitics-pdsa/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pdsactl:", err)
		os.Exit(1)
	}
}
