// SCPDiscord - Discord bridge for SCP: Secret Laboratory servers
// License: MIT

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/scpdiscord/scpdiscord/pkg/config"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func printVersion() {
	fmt.Printf("scpdiscord %s\n", formatVersion())
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	fmt.Printf("  Go: %s\n", goVer)
}

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "start":
		startCmd()
	case "config":
		configCmd()
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Printf("scpdiscord - Discord bridge for SCP: Secret Laboratory v%s\n\n", version)
	fmt.Println("Usage: scpdiscord <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  start       Connect to Discord and wait for the game server plugin")
	fmt.Println("  config      Print the effective configuration")
	fmt.Println("  version     Show version information")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>   Config file (default ~/.scpdiscord/config.json)")
	fmt.Println("  --debug, -d       Enable debug logging (start only)")
	fmt.Println("  --leave <id>      Leave the Discord server with this id (start only, repeatable)")
}

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".scpdiscord", "config.json")
}

// configPathArg returns the value of --config in args, or the default path.
func configPathArg(args []string) string {
	for i := 0; i < len(args); i++ {
		if (args[i] == "--config" || args[i] == "-c") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return defaultConfigPath()
}

func loadConfig(path string) (*config.Config, error) {
	return config.LoadConfig(path)
}
