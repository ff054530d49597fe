package main

import (
	"os"

	wsrelaycmder "github.com/papercomputeco/wsrelay/cmd/wsrelay"
)

func main() {
	cmd := wsrelaycmder.NewWsrelayCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
