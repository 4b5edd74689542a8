// The main package for the shopcrawler executable.
package main

import (
	"github.com/marketmap/shopcrawler/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
