package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/scribechain/scribed/logs"
	"github.com/scribechain/scribed/node"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scribed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, nodeCfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logs.InitLogRotator(filepath.Join(cfg.DataDir, "logs", defaultLogFilename), 8); err != nil {
		return err
	}
	logs.SetLevel(parseLevel(cfg.LogLevel))

	n, err := node.Open(nodeCfg)
	if err != nil {
		return err
	}
	n.Start()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	<-sigs

	n.Stop()
	return nil
}

func parseLevel(s string) logs.Level {
	switch s {
	case "trace":
		return logs.LevelTrace
	case "debug":
		return logs.LevelDebug
	case "warn":
		return logs.LevelWarn
	case "error":
		return logs.LevelError
	default:
		return logs.LevelInfo
	}
}
