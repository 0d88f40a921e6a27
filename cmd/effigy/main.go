// Command effigy is the entry point for the effigy task runner.
package main

import (
	"fmt"
	"os"

	"github.com/effigy/effigy/pkg/cli"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
