package main

import (
	"fmt"
	"os"

	"unity-references/src/cli"
)

// runMain executes the main application logic and returns the exit code
func runMain() int {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	if exitCode := runMain(); exitCode != 0 {
		os.Exit(exitCode)
	}
}
