package main

import (
	"github.com/sweepguard/sweepguard/cmd"
)

func main() {
	cmd.Execute()
}
