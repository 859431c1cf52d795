package main

import (
	"os"

	"github.com/Lexterl33t/KCLVM/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
