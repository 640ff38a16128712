package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/studybeats/internal/config"
	gap "github.com/muesli/go-app-paths"
)

func getLogFilePath() (string, error) {
	return gap.NewScope(gap.User, config.AppName).LogPath(config.AppName + ".log")
}

// setupLog sends warnings to stderr. With STUDYBEATS_DEBUG or
// STUDYBEATS_LOG_FILE set, everything down to debug goes to a log file.
func setupLog() (func() error, error) {
	log.SetOutput(os.Stderr)
	log.SetLevel(log.WarnLevel)

	logFile := envCfg.LogFile
	if logFile == "" && envCfg.Debug {
		var err error
		logFile, err = getLogFilePath()
		if err != nil {
			return nil, err
		}
	}
	if logFile == "" {
		return func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	log.SetOutput(f)
	log.SetReportTimestamp(true)
	log.SetTimeFormat(time.RFC3339)
	log.SetLevel(log.DebugLevel)
	return f.Close, nil
}
