package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crease/internal/config"
	"crease/internal/statusapi"
)

// CheckDaemon reports whether a crease daemon answers on the status API.
// A daemon that is not running is not a failure; the CLI runs uploads
// in-process instead.
func CheckDaemon(ctx context.Context, cfg *config.Config) Result {
	const name = "Daemon"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Status.APIBind) == "" {
		return Result{Name: name, Passed: true, Detail: "Status API disabled"}
	}
	reach := ReachDaemon(ctx, cfg)
	return Result{Name: name, Passed: true, Detail: reach.Detail()}
}

// DaemonReach is a snapshot of the local daemon as seen through its status API.
type DaemonReach struct {
	Reachable bool
	Bind      string
	Status    *statusapi.Status
	Err       error
}

// ReachDaemon queries the configured status API with a short timeout.
func ReachDaemon(ctx context.Context, cfg *config.Config) DaemonReach {
	reach := DaemonReach{Bind: cfg.Status.APIBind}
	client, err := statusapi.NewClientFromConfig(cfg)
	if err != nil {
		reach.Err = err
		return reach
	}

	reachCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status, err := client.Status(reachCtx)
	if err != nil {
		reach.Err = err
		return reach
	}
	reach.Reachable = true
	reach.Status = status
	return reach
}

// Detail renders a display-friendly summary for status UIs.
func (p DaemonReach) Detail() string {
	if !p.Reachable {
		if p.Err != nil && !errors.Is(p.Err, statusapi.ErrUnavailable) {
			return fmt.Sprintf("Not reachable on %s (%v)", p.Bind, p.Err)
		}
		return fmt.Sprintf("Not running (%s)", p.Bind)
	}
	detail := fmt.Sprintf("Running (pid %d, %s)", p.Status.PID, p.Bind)
	if p.Status.Upload != nil {
		detail += fmt.Sprintf(", upload %s", p.Status.Upload.Status)
	}
	return detail
}
