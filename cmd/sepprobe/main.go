package main

import (
	"fmt"
	"os"

	"github.com/danmuck/sepprobe/internal/logging"
)

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sepprobe: %v\n", err)
		os.Exit(1)
	}
}
