package main

import (
	"fmt"
	"os"

	"github.com/abracadabra-mc/abracadabra/hub"
	"github.com/abracadabra-mc/abracadabra/hub/cli"
)

var version = "dev"

func main() {
	root := cli.NewRootCmd(version, hub.Options{})
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
