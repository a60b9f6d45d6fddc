// Command facecrop crops images to an aspect ratio around the faces they
// contain.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Application error! %v\n", err)
		os.Exit(exitCode(err))
	}
}
