package cmd

import "fmt"

// Version is set at build time via -ldflags.
var Version = "dev"

// runVersion prints version information.
func runVersion() {
	fmt.Printf("tallyd %s\n", Version)
}
