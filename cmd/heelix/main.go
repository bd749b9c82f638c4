// Command heelix indexes captured activity text and answers similarity and context queries.
package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	if err := fang.Execute(context.Background(), NewRootCmd(version)); err != nil {
		os.Exit(1)
	}
}
