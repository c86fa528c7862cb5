package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"crease/internal/analysis"
	"crease/internal/config"
	"crease/internal/services"
	"crease/internal/session"
)

// CheckBackend verifies that the analysis backend answers its health
// endpoint. It uses a 5-second timeout and a single attempt.
func CheckBackend(ctx context.Context, baseURL string) Result {
	const name = "Analysis backend"

	base := strings.TrimSpace(baseURL)
	if base == "" {
		return Result{Name: name, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := analysis.New(analysis.Options{BaseURL: base, Timeout: 5 * time.Second})
	health, err := client.Health(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", base, summarizeHealthError(err))}
	}
	status := strings.TrimSpace(health.Status)
	if status == "" {
		status = "ok"
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", base, status)}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckStateDir verifies the directory holding the database, session and lock.
func CheckStateDir(cfg *config.Config) Result {
	return CheckDirectoryAccess("State directory", cfg.Paths.StateDir)
}

// CheckSession reports whether a login is stored and readable.
func CheckSession(cfg *config.Config) Result {
	const name = "Session"

	state, err := session.NewFileStore(cfg.SessionPath()).Load()
	switch {
	case errors.Is(err, session.ErrCorrupt):
		return Result{Name: name, Detail: "stored session unreadable (run crease login)"}
	case err != nil:
		return Result{Name: name, Detail: fmt.Sprintf("load failed (%v)", err)}
	case state.Empty():
		return Result{Name: name, Detail: "not logged in (run crease login)"}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("logged in as %s", state.User.Username)}
}

// summarizeHealthError produces a human-readable summary for health check failures.
func summarizeHealthError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (backend unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (backend unreachable)"
	}
	switch services.KindOf(err) {
	case services.KindConnectionFailed:
		return "backend unreachable"
	case services.KindServerRejected:
		return "backend reported an error"
	}
	return err.Error()
}
