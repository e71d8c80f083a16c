package main

import (
	"fmt"
	"os"

	"github.com/slatehq/slate/cmd/slate/commands"
	"github.com/slatehq/slate/errors"
)

func main() {
	if err := commands.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		switch {
		case errors.Is(err, commands.ErrStore):
			os.Exit(2)
		default:
			os.Exit(1)
		}
	}
}
