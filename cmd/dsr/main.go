package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/devtool-release/dsr/cmd/dsr/cmd"
	"github.com/devtool-release/dsr/pkg/dsrerr"
)

func main() {
	root, a := cmd.NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dsr: %v\n", err)
		// Errors without an exit code of their own come from cobra's flag and
		// argument parsing, and count as invalid arguments.
		var coded dsrerr.Coded
		if !errors.As(err, &coded) {
			err = dsrerr.InvalidArgs("invalid arguments", err)
		}
		os.Exit(dsrerr.ExitCodeFor(err))
	}
	os.Exit(a.ExitCode())
}
