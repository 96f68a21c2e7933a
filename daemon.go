package main

import (
	"context"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/neovim/go-client/nvim"

	"gutterdiff/buffer"
	"gutterdiff/config"
	"gutterdiff/engine"
	"gutterdiff/git"
	"gutterdiff/snapshot"
	"gutterdiff/text"
	"gutterdiff/watcher"
)

// gitWatchDebounce lets a commit or checkout finish writing before refreshing
const gitWatchDebounce = 300 * time.Millisecond

type Daemon struct {
	config      *config.Config
	editor      *buffer.NvimEditor
	engine      *engine.Engine
	store       *snapshot.Store  // nil when the database could not be opened
	watcher     *watcher.Watcher // nil when watch_git is off
	listener    net.Listener
	socketPath  string
	pidPath     string
	clientCount int64
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewDaemon(cfg *config.Config) (*Daemon, error) {
	provider, err := git.NewContentProvider(cfg.GitBackend)
	if err != nil {
		return nil, err
	}

	runner := git.NewExecRunner("", cfg.GitRatePerSec)
	gitSource := engine.NewGitSource(git.NewLocator(runner), provider, cfg.TrackSpec())

	editor := buffer.New(buffer.Config{
		NsID: cfg.NsID,
		Signs: map[text.MarkKind]buffer.Sign{
			text.MarkAdded:   {Text: cfg.Signs.Added.Text, Highlight: cfg.Signs.Added.Highlight},
			text.MarkChanged: {Text: cfg.Signs.Changed.Text, Highlight: cfg.Signs.Changed.Highlight},
			text.MarkRemoved: {Text: cfg.Signs.Removed.Text, Highlight: cfg.Signs.Removed.Highlight},
			text.MarkCreated: {Text: cfg.Signs.Created.Text, Highlight: cfg.Signs.Created.Highlight},
		},
	})

	deps := engine.Dependencies{Editor: editor, Git: gitSource}

	// Snapshots are optional: markers against git still work without them
	store, err := snapshot.Open(cfg.SnapshotDB)
	if err != nil {
		log.Printf("warning: snapshots disabled: %v", err)
	} else {
		deps.Snapshots = store
	}

	eng, err := engine.NewEngine(deps, engine.EngineConfig{
		Track:        cfg.TrackSpec(),
		Debounce:     time.Duration(cfg.DebounceMs) * time.Millisecond,
		MaxParallel:  cfg.MaxParallel,
		SnapshotKeep: cfg.SnapshotKeep,
	}, engine.SystemClock)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:     cfg,
		editor:     editor,
		engine:     eng,
		store:      store,
		socketPath: getSocketPath(),
		pidPath:    getPidPath(),
		ctx:        ctx,
		cancel:     cancel,
	}

	if cfg.WatchGit {
		w, err := watcher.New(engine.NewDebouncer(engine.SystemClock, gitWatchDebounce), func(gitDir string) {
			log.Printf("git metadata changed in %s", gitDir)
			eng.BaseChanged()
		})
		if err != nil {
			log.Printf("warning: git watching disabled: %v", err)
		} else {
			d.watcher = w
			gitSource.OnRepo(func(repo *git.Repo) {
				if err := w.Add(repo.GitDir()); err != nil {
					log.Printf("warning: could not watch %s: %v", repo.GitDir(), err)
				}
			})
		}
	}

	return d, nil
}

func (d *Daemon) Start() error {
	// Setup logging and PID management
	d.writePidFile()
	defer d.removePidFile()

	// Setup socket
	if err := d.setupSocket(); err != nil {
		return err
	}
	defer d.cleanup()

	log.Printf("daemon listening on socket: %s", d.socketPath)

	// Start engine
	d.engine.Start(d.ctx)

	// Setup shutdown handling
	d.setupShutdownHandling()

	// Start connection handling
	go d.acceptConnections()

	// Start idle monitoring
	go d.monitorIdleShutdown()

	// Wait for shutdown
	<-d.ctx.Done()
	log.Printf("daemon shutting down...")
	return nil
}

func (d *Daemon) setupSocket() error {
	// Remove existing socket
	os.Remove(d.socketPath)

	// Listen on Unix socket
	listener, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return err
	}
	d.listener = listener
	return nil
}

func (d *Daemon) setupShutdownHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("received shutdown signal")
		d.Stop()
	}()
}

func (d *Daemon) acceptConnections() {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.ctx.Done():
				return // Server is shutting down
			default:
				log.Printf("error accepting connection: %v", err)
				continue
			}
		}

		atomic.AddInt64(&d.clientCount, 1)
		log.Printf("new client connected, total clients: %d", atomic.LoadInt64(&d.clientCount))
		go d.handleConnection(conn)
	}
}

func (d *Daemon) handleConnection(conn net.Conn) {
	defer conn.Close()
	defer func() {
		atomic.AddInt64(&d.clientCount, -1)
		log.Printf("client disconnected, remaining clients: %d", atomic.LoadInt64(&d.clientCount))
	}()

	// Create Neovim client from the connection
	n, err := nvim.New(conn, conn, conn, log.Printf)
	if err != nil {
		log.Printf("error creating nvim client: %v", err)
		return
	}

	// The newest connection owns the editor; buffer numbers of the previous
	// one are meaningless to it
	d.editor.SetClient(n)
	d.engine.ClientChanged()

	if err := d.editor.RegisterHandlers(d.engine.HandleEditorEvent, d.engine.HandleEditorCommand); err != nil {
		log.Printf("error registering handlers: %v", err)
		return
	}

	// Serve this connection until it closes or context is done
	served := make(chan error, 1)
	go func() {
		served <- n.Serve()
	}()

	// Requests only get answers once Serve runs
	if err := d.editor.EnsureNamespace(); err != nil {
		log.Printf("error creating namespace: %v", err)
	}

	select {
	case <-d.ctx.Done():
		n.Close()
	case err := <-served:
		if err != nil && err != io.EOF {
			log.Printf("error serving connection: %v", err)
		}
	}
}

func (d *Daemon) monitorIdleShutdown() {
	// In debug mode, shut down immediately when no clients are connected
	if d.config.DebugImmediateShutdown {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-d.ctx.Done():
				return
			case <-ticker.C:
				if atomic.LoadInt64(&d.clientCount) == 0 {
					log.Printf("debug mode: no clients connected, shutting down daemon immediately")
					d.Stop()
					return
				}
			}
		}
	} else {
		// Normal mode: wait for timeout period before shutting down
		idleTimer := time.NewTimer(30 * time.Second)
		defer idleTimer.Stop()

		for {
			select {
			case <-d.ctx.Done():
				return
			case <-idleTimer.C:
				if atomic.LoadInt64(&d.clientCount) == 0 {
					log.Printf("no clients connected for timeout period, shutting down daemon")
					d.Stop()
					return
				}
			}

			// Reset timer when no clients
			if atomic.LoadInt64(&d.clientCount) == 0 {
				idleTimer.Reset(5 * time.Second)
			} else {
				idleTimer.Reset(30 * time.Second)
			}
		}
	}
}

func (d *Daemon) Stop() {
	d.engine.Stop()
	if d.watcher != nil {
		d.watcher.Close()
	}
	if d.listener != nil {
		d.listener.Close()
	}
	d.cancel()
}

func (d *Daemon) cleanup() {
	os.Remove(d.socketPath)
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			log.Printf("warning: could not close snapshot store: %v", err)
		}
	}
}

func (d *Daemon) writePidFile() {
	pid := os.Getpid()
	err := os.WriteFile(d.pidPath, []byte(strconv.Itoa(pid)), 0644)
	if err != nil {
		log.Printf("warning: could not write PID file: %v", err)
	}
	log.Printf("server started with PID %d", pid)
}

func (d *Daemon) removePidFile() {
	if err := os.Remove(d.pidPath); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: could not remove PID file: %v", err)
	}
}
