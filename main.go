package main

import (
	"os"

	"github.com/thiagokokada/gitp/cmd"
)

func main() {
	os.Exit(cmd.Run())
}
