package main

import (
	"os"

	"github.com/the-vow/backend/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
