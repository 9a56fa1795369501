package main

import (
	"os"

	"saxotrader/cmd/saxotrader/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
