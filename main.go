package main

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"gutterdiff/config"
	"gutterdiff/git"
	"gutterdiff/logger"
)

type ServerMode string

const (
	ModeDaemon ServerMode = "daemon"
	ModeClient ServerMode = "client"
	ModeReport ServerMode = "report"
)

// Setup logger to log to a file in the same directory as the executable
// Caller must defer logger.Close()
func setupLogger(logLevel string) *logger.LimitedLogger {
	execPath, err := os.Executable()
	if err != nil {
		log.Fatalf("error getting executable path: %v", err)
	}
	logPath := filepath.Join(filepath.Dir(execPath), "gutterdiff.log")

	limitedLogger, err := logger.Open(logPath, logger.ParseLogLevel(logLevel))
	if err != nil {
		log.Fatalf("error opening log: %v", err)
	}
	log.SetOutput(limitedLogger)
	return limitedLogger
}

func getSocketPath() string {
	execPath, err := os.Executable()
	if err != nil {
		log.Fatalf("error getting executable path: %v", err)
	}
	execDir := filepath.Dir(execPath)
	return filepath.Join(execDir, "gutterdiff.sock")
}

func getPidPath() string {
	execPath, err := os.Executable()
	if err != nil {
		log.Fatalf("error getting executable path: %v", err)
	}
	execDir := filepath.Dir(execPath)
	return filepath.Join(execDir, "gutterdiff.pid")
}

func isDaemonRunning() (bool, int) {
	pidPath := getPidPath()
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0
	}

	// Check if process is still running
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0
	}

	// On Unix, Signal(0) checks if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil, pid
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("%v", err)
	}

	log.Printf("config: %+v", *cfg)
	return cfg
}

func runDaemon() {
	cfg := loadConfig()

	logger := setupLogger(cfg.LogLevel)
	defer logger.Close()

	daemon, err := NewDaemon(cfg)
	if err != nil {
		log.Fatalf("error creating daemon: %v", err)
	}

	if err := daemon.Start(); err != nil {
		log.Fatalf("error starting daemon: %v", err)
	}
}

func runClient() {
	client := NewClient()

	if err := client.EnsureDaemonRunning(); err != nil {
		log.Fatalf("error ensuring daemon is running: %v", err)
	}

	if err := client.Connect(); err != nil {
		log.Fatalf("error connecting to daemon: %v", err)
	}
}

func runReport(args []string) {
	cfg := loadConfig()
	logger.SetGlobalLevel(logger.ParseLogLevel(cfg.LogLevel))

	spec := cfg.TrackSpec()
	if len(args) > 0 {
		spec = git.ParseTrackSpec(strings.Join(args, " "))
	}

	cwd, err := os.Getwd()
	if err != nil {
		log.Fatalf("error getting working directory: %v", err)
	}

	if err := report(os.Stdout, cwd, spec, cfg.GitRatePerSec); err != nil {
		log.Fatalf("%v", err)
	}
}

func main() {
	var mode ServerMode = ModeClient

	// Check command line arguments
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--daemon":
			mode = ModeDaemon
		case "--report":
			mode = ModeReport
		}
	}

	switch mode {
	case ModeDaemon:
		runDaemon()
	case ModeReport:
		runReport(os.Args[2:])
	case ModeClient:
		runClient()
	}
}
