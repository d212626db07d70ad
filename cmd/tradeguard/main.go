// Command tradeguard detects anomalous trading days with an isolation forest.
package main

import (
	"fmt"
	"os"
)

func main() {
	root := newRootCommand(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
