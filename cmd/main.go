package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fantasma-id/fantasma/cmd/fantasma"
)

// Fantasma - an OpenID Connect provider that releases zero-knowledge
// attestations instead of user attributes.
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var exitErr *fantasma.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
