package main

import (
	"github.com/lattisledger/lattis/cmd/lattis/cmd"
)

func main() {
	cmd.Execute()
}
