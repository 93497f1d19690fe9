package main

import (
	"os"

	"github.com/scriptbox/scriptbox/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
