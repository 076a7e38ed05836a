package main

import (
	"os"

	"sesame/cmd/sesame/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
