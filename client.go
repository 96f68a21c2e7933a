package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"gutterdiff/logger"
)

const (
	daemonStartPolls = 50 // at 100ms: wait up to 5 seconds
	dialAttempts     = 5
)

// Client relays the editor's stdio RPC channel to the shared daemon
type Client struct {
	socketPath string
	pidPath    string
}

func NewClient() *Client {
	return &Client{
		socketPath: getSocketPath(),
		pidPath:    getPidPath(),
	}
}

// dial connects to the daemon socket. The daemon writes its pid before it
// listens, so the first attempts may race its startup.
func (c *Client) dial() (net.Conn, error) {
	var lastErr error
	for attempt := range dialAttempts {
		conn, err := net.Dial("unix", c.socketPath)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		logger.Debug("dial %s failed (attempt %d): %v", c.socketPath, attempt+1, err)
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return nil, fmt.Errorf("connect to daemon at %s: %w", c.socketPath, lastErr)
}

func (c *Client) Connect() error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	// Relay between stdin/stdout and socket
	go func() {
		io.Copy(conn, os.Stdin)
		conn.Close()
	}()

	io.Copy(os.Stdout, conn)
	return nil
}

func (c *Client) EnsureDaemonRunning() error {
	running, pid := isDaemonRunning()
	if running {
		logger.Debug("daemon already running with PID %d", pid)
		return nil
	}

	// A crashed daemon leaves its pid file behind
	if pid != 0 {
		logger.Debug("removing stale pid file for PID %d", pid)
		os.Remove(c.pidPath)
	}

	return c.startDaemon()
}

func (c *Client) startDaemon() error {
	logger.Debug("starting daemon...")

	// Start daemon in background; the config travels in the environment
	cmd := []string{os.Args[0], "--daemon"}

	_, err := os.StartProcess(os.Args[0], cmd, &os.ProcAttr{
		Env: os.Environ(),
		Files: []*os.File{
			nil, // stdin
			nil, // stdout
			nil, // stderr
		},
	})
	if err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	return c.waitForDaemon()
}

func (c *Client) waitForDaemon() error {
	for range daemonStartPolls {
		if running, _ := isDaemonRunning(); running {
			logger.Debug("daemon started successfully")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon failed to start within timeout")
}
