package main

import (
	"os"

	"s3sync/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
