package main

import (
	"os"

	"github.com/zpmjs/zpm/internal/cmd"
)

const zpmVersion = "0.0.1"

func main() {
	os.Exit(cmd.RunWithArgs(os.Args[1:], zpmVersion))
}
