// Command odras is the knowledge indexing and retrieval engine CLI.
package main

import (
	"fmt"
	"os"

	"github.com/laserpointlabs/ODRAS-sub000/cmd/odras/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
