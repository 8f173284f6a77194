package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassavanet/cassavanet/cmd"
	"github.com/cassavanet/cassavanet/internal/buildinfo"
	"github.com/cassavanet/cassavanet/internal/conf"
	"github.com/cassavanet/cassavanet/internal/logger"
	"github.com/cassavanet/cassavanet/internal/telemetry"
)

// buildDate and version are set at build time with -ldflags -X.
var (
	buildDate string
	version   string
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	settings, err := conf.Load(os.Getenv("CASSAVANET_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return 1
	}

	info := buildinfo.NewContext(version, buildDate)
	settings.Version = info.Version()
	settings.BuildDate = info.BuildDate()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cmd.RootCommand(settings, info)
	err = rootCmd.ExecuteContext(ctx)

	telemetry.Flush(2 * time.Second)
	if cerr := logger.Global().Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "Error closing log file: %v\n", cerr)
	}

	if err != nil {
		return 1
	}
	return 0
}
