package main

import (
	"os"

	"github.com/notPlancha/CanvasSync/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
