package main

import (
	"fmt"
	"os"

	"github.com/fareloom/fareloom/cmd"
	"github.com/fareloom/fareloom/internal/observability"
)

func main() {
	err := cmd.Execute()
	observability.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
