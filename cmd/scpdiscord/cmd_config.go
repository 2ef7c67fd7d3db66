// SCPDiscord - Discord bridge for SCP: Secret Laboratory servers
// License: MIT

package main

import (
	"encoding/json"
	"fmt"
	"os"
)

func configCmd() {
	path := configPathArg(os.Args[2:])

	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Println("Config:", path, "✓")
	} else {
		fmt.Println("Config:", path, "✗ (using defaults)")
	}

	data, err := json.MarshalIndent(cfg.Redacted(), "", "  ")
	if err != nil {
		fmt.Printf("Error encoding config: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))

	if err := cfg.Validate(); err != nil {
		fmt.Printf("\nConfig is not usable: %v\n", err)
		os.Exit(1)
	}
}
