package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner
func PrintBanner(config *Config, logger arbor.ILogger) {
	version := GetVersion()

	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorCyan).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")
	b.PrintTopLine()
	b.PrintCenteredText("CONDUCTOR")
	b.PrintCenteredText("Durable Job Orchestrator")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", version, 15)
	b.PrintKeyValue("Environment", config.Environment, 15)
	b.PrintKeyValue("Store Path", config.Storage.Badger.Path, 15)
	b.PrintBottomLine()
	fmt.Printf("\n")

	logger.Info().
		Str("version", version).
		Str("environment", config.Environment).
		Str("store_path", config.Storage.Badger.Path).
		Int("workers", config.Scheduler.Workers).
		Int("activity_configurations", len(config.Activities)).
		Msg("Application started")
}

// PrintShutdownBanner displays the application shutdown banner
func PrintShutdownBanner(logger arbor.ILogger) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorCyan).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(42)

	b.PrintTopLine()
	b.PrintCenteredText("SHUTTING DOWN")
	b.PrintCenteredText("CONDUCTOR")
	b.PrintBottomLine()
	fmt.Println()

	logger.Info().Msg("Application shutting down")
}
