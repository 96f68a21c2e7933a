package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/time/rate"

	"gutterdiff/logger"
)

// Runner executes git subcommands in a directory and returns raw stdout
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner runs the git binary. Spawns are throttled so a burst of
// buffer refreshes cannot fork hundreds of processes at once.
type ExecRunner struct {
	GitBin  string
	limiter *rate.Limiter
}

// NewExecRunner creates a runner for gitBin ("git" when empty) allowing at
// most perSecond spawns per second. perSecond <= 0 disables throttling.
func NewExecRunner(gitBin string, perSecond float64) *ExecRunner {
	if strings.TrimSpace(gitBin) == "" {
		gitBin = "git"
	}

	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = max(1, int(perSecond))
	}

	return &ExecRunner{
		GitBin:  gitBin,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (e *ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("git %s: wait for spawn slot: %w", subcommand(args), err)
	}

	cmd := exec.CommandContext(ctx, e.GitBin, args...)
	cmd.Dir = dir

	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(errb.String())
		logger.Debug("git %s in %s failed: %v %s", subcommand(args), dir, err, msg)
		if msg == "" {
			return "", fmt.Errorf("git %s: %w", subcommand(args), err)
		}
		return "", fmt.Errorf("git %s: %w: %s", subcommand(args), err, msg)
	}
	return out.String(), nil
}

// subcommand names the git operation for logs and errors without leaking paths
func subcommand(args []string) string {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return a
		}
	}
	return "<none>"
}
