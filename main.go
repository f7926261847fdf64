package main

import (
	"os"

	"github.com/SAP-F-2025/workshop-progress/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
