package commands

import (
	"fmt"

	"github.com/slatehq/slate/config"
	"github.com/slatehq/slate/version"
)

// printStartupBanner prints the user-friendly startup message
func printStartupBanner(cfg *config.Config, storePath string) {
	// ANSI escape codes
	cyan := "\033[36m"
	green := "\033[32m"
	yellow := "\033[33m"
	blue := "\033[34m"
	bold := "\033[1m"
	reset := "\033[0m"

	versionInfo := version.Get()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔════════════════════════════════════════════════╗\n")
	fmt.Printf("   ║                                                ║\n")
	fmt.Printf("   ║    ███████ ██       █████  ████████ ███████    ║\n")
	fmt.Printf("   ║    ██      ██      ██   ██    ██    ██         ║\n")
	fmt.Printf("   ║    ███████ ██      ███████    ██    █████      ║\n")
	fmt.Printf("   ║         ██ ██      ██   ██    ██    ██         ║\n")
	fmt.Printf("   ║    ███████ ███████ ██   ██    ██    ███████    ║\n")
	fmt.Printf("   ║                                                ║\n")
	fmt.Printf("   ╚════════════════════════════════════════════════╝%s\n\n", reset)

	fmt.Printf("%s%s┌─ Slate Info ────────────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:  %s (commit %s)\n", green, reset, versionInfo.Version, versionInfo.Short())
	fmt.Printf("%s│%s Built:    %s\n", green, reset, versionInfo.BuildTime)
	fmt.Printf("%s│%s API:      http://%s:%d\n", green, reset, cfg.Server.Host, cfg.ServerPort())
	fmt.Printf("%s│%s Stream:   ws://%s:%d/ws\n", green, reset, cfg.Server.Host, cfg.ServerPort())
	fmt.Printf("%s│%s Timezone: %s\n", green, reset, cfg.Location().String())
	if storePath != "" {
		fmt.Printf("%s│%s Store:    %s\n", green, reset, storePath)
	}
	if cfg.Capabilities.ManifestPath != "" {
		fmt.Printf("%s│%s Manifest: %s\n", green, reset, cfg.Capabilities.ManifestPath)
	} else {
		fmt.Printf("%s│%s Manifest: (none - simulated capabilities)\n", green, reset)
	}
	fmt.Printf("%s└─────────────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s%s✨ POST /api/jobs/schedule to queue production%s\n", yellow, bold, reset)
	fmt.Printf("%s💡 Press Ctrl+C to stop%s\n\n", blue, reset)
}
