package main

import (
	"fmt"
	"os"

	"github.com/relayprotocol/commitments/cmd/commitments"
)

func main() {
	rootCmd := commitments.BuildCommitmentsCmd()

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
