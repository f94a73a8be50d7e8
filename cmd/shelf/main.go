// Package main provides the entry point for the shelf CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/shelf/cmd/shelf/cmd"
	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprint(os.Stderr, shelferrors.FormatForCLI(err))
		os.Exit(1)
	}
}
