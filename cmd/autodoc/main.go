package main

import (
	"os"

	"github.com/dani-farcas/autoDocOrganizer/internal/cli"
)

var version = "dev"

func main() {
	cli.Version = version
	os.Exit(cli.Execute())
}
