package main

import (
	"os"

	"prop-ledger/cmd/ledgerd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
