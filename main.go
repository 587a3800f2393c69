// The main package for the sitemap-crawler executable.
package main

import (
	"os"

	"github.com/JakeFAU/sitemap-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	os.Exit(cmd.Execute())
}
