package main

import (
	"fmt"
	"os"

	"github.com/kingrea/sarafan/internal/config"
)

// handleInitCommand implements `sarafan init [dir]`, which writes a default
// config.yaml and prints the resolved settings.
func handleInitCommand() bool {
	if len(os.Args) < 2 || os.Args[1] != "init" {
		return false
	}
	if len(os.Args) > 3 {
		fmt.Fprintln(os.Stderr, "Usage: sarafan init [home-dir]")
		os.Exit(2)
	}
	home := ""
	if len(os.Args) == 3 {
		home = os.Args[2]
	} else {
		resolved, err := config.DefaultHome()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resolving home directory: %v\n", err)
			os.Exit(1)
		}
		home = resolved
	}
	if err := config.InitDir(home); err != nil {
		fmt.Fprintf(os.Stderr, "Init failed: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(home)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OK: %s\n", cfg.Path())
	fmt.Printf("- backend: %s (timeout %s)\n", cfg.BackendURL(), cfg.BackendTimeout())
	fmt.Printf("- auto publish: %v\n", cfg.AutoPublish())
	fmt.Printf("- log: %s\n", cfg.LogPath())
	if cfg.BridgeEnabled() {
		fmt.Printf("- bridge: %s\n", cfg.BridgeAddress())
	}
	os.Exit(0)
	return true
}
