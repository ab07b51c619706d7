package main

import (
	"os"
	"runtime"

	"go.olrik.dev/mediakey/cmd"
)

func init() {
	// The UI loop and the event tap must run on the main thread
	runtime.LockOSThread()
}

func main() {
	// If no command specified, run the relay
	if len(os.Args) == 1 {
		os.Args = []string{os.Args[0], "run"}
	}

	root := cmd.NewRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
