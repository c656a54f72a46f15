package main

import (
	"os"

	"migrator/internal/ui/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
