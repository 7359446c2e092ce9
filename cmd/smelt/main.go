// Command smelt builds packages from source.
package main

import (
	"os"

	"github.com/roach88/smelt/internal/cli"
)

func main() {
	os.Exit(cli.Execute(cli.NewRootCommand()))
}
