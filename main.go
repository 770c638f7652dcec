// The main package for the apkfetch executable.
package main

import (
	"github.com/JakeFAU/apkfetch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
