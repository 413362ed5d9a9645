package main

import (
	"os"

	"github.com/forgechat/forgechat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
