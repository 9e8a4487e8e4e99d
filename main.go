package main

import (
	"os"

	"nsmgr/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:], cli.Dependencies{
		In:  os.Stdin,
		Out: os.Stdout,
		Err: os.Stderr,
	}))
}
