// Command tokenctl is the operator CLI for the tokenization gateway.
package main

import (
	"fmt"
	"os"

	apperrors "github.com/R3E-Network/tokenization_layer/internal/errors"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if apperrors.IsAuthentication(err) {
			fmt.Fprintln(os.Stderr, "Check the verification in the input file and try again.")
		}
		os.Exit(1)
	}
}
