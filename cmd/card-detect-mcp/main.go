package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/ironsheep/card-detect-mcp/internal/config"
	"github.com/ironsheep/card-detect-mcp/internal/cv"
	"github.com/ironsheep/card-detect-mcp/internal/logging"
	"github.com/ironsheep/card-detect-mcp/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Handle --version and -v flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("card-detect-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			fmt.Printf("  CV backend: %s\n", cv.Backend)
			return
		case "--help", "-h", "help":
			printHelp()
			return
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "card-detect-mcp: %v\n", err)
		os.Exit(2)
	}

	// Logs go to stderr; stdout is for MCP protocol.
	log := logging.Stderr(cfg.LogLevel, cfg.LogFormat)
	log.WithFields(logrus.Fields{
		"version":  Version,
		"commit":   GitCommit,
		"cv":       cv.Backend,
		"detector": cfg.Detector,
	}).Info("card detect MCP server starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, log)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("server error")
	}
	log.Info("server exited")
}

func printHelp() {
	fmt.Println("card-detect-mcp - MCP server for trading-card detection in video frames")
	fmt.Println()
	fmt.Println("Usage: card-detect-mcp [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --version, -v    Print version information")
	fmt.Println("  --help, -h       Print this help message")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  CARD_MCP_DETECTOR=contour        Default backend: contour, box or segment")
	fmt.Println("  CARD_MCP_BUFFER_CAPACITY=6       Frames kept in the rolling buffer")
	fmt.Println("  CARD_MCP_SHARPEST_WINDOW=500ms   Window searched for the sharpest frame")
	fmt.Println("  CARD_MCP_CLICK_DEBOUNCE=2s       Minimum time between accepted clicks")
	fmt.Println("  CARD_MCP_SAMPLE_INTERVAL=100ms   Frame sampling period during capture")
	fmt.Println("  CARD_MCP_OUTPUT_WIDTH=336        Exported card width")
	fmt.Println("  CARD_MCP_OUTPUT_HEIGHT=469       Exported card height")
	fmt.Println("  CARD_MCP_CANVAS_SIZE=469         Square canvas of segmentation warps")
	fmt.Println("  CARD_MCP_EVENT_QUEUE=64          Event queue capacity")
	fmt.Println("  CARD_MCP_BOX_MODEL=              Network file for the box backend")
	fmt.Println("  CARD_MCP_DEVICE=cpu              Box backend device: cpu, cuda or opencl")
	fmt.Println("  CARD_MCP_CATALOG=                Card name list for title matching")
	fmt.Println("  CARD_MCP_TESSDATA=               Tesseract data directory")
	fmt.Println("  CARD_MCP_LOG_LEVEL=info          debug, info, warn or error")
	fmt.Println("  CARD_MCP_LOG_FORMAT=text         text or json")
	fmt.Println()
	fmt.Println("This server communicates via MCP protocol over stdin/stdout.")
	fmt.Println("Configure it in your MCP client.")
}
