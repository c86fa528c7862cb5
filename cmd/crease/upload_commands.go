package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"crease/internal/analysis"
	"crease/internal/config"
	"crease/internal/daemon"
	"crease/internal/session"
	"crease/internal/statusapi"
	"crease/internal/upload"
	"crease/internal/uploadstore"
)

const remotePollInterval = time.Second

func newUploadCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newUploadCommand(ctx),
		newWaitCommand(ctx, "wait", "Wait for the current upload's analysis", "No upload in progress"),
		newWaitCommand(ctx, "resume", "Resume an upload interrupted by a restart", "Nothing to resume"),
		newStatusCommand(ctx),
		newCancelCommand(ctx),
	}
}

type uploadFlags struct {
	player     string
	side       string
	bowlerType string
	shot       string
}

func (f uploadFlags) form(path string) (analysis.UploadForm, error) {
	player, ok := analysis.ParsePlayerType(f.player)
	if !ok {
		return analysis.UploadForm{}, fmt.Errorf("invalid --player %q (batsman or bowler)", f.player)
	}
	side, ok := analysis.ParseSide(f.side)
	if !ok {
		return analysis.UploadForm{}, fmt.Errorf("invalid --side %q (left or right)", f.side)
	}

	expanded, err := config.ExpandPath(strings.TrimSpace(path))
	if err != nil {
		return analysis.UploadForm{}, fmt.Errorf("resolve video path: %w", err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return analysis.UploadForm{}, fmt.Errorf("resolve video path: %w", err)
	}

	form := analysis.UploadForm{PlayerType: player, VideoURI: abs}
	switch player {
	case analysis.PlayerBowler:
		form.BowlerSide = side
		if strings.TrimSpace(f.bowlerType) != "" {
			bowlerType, ok := analysis.ParseBowlerType(f.bowlerType)
			if !ok {
				return analysis.UploadForm{}, fmt.Errorf("invalid --bowler-type %q (fast or spin)", f.bowlerType)
			}
			form.BowlerType = bowlerType
		}
	default:
		form.BatterSide = side
		form.ShotType = strings.TrimSpace(f.shot)
	}
	return form, nil
}

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var flags uploadFlags
	var jsonOutput, detach bool

	cmd := &cobra.Command{
		Use:   "upload <video>",
		Short: "Upload a video for analysis and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			form, err := flags.form(args[0])
			if err != nil {
				return err
			}

			if client, ok := ctx.daemonClient(cmd.Context()); ok {
				view, err := client.StartUpload(cmd.Context(), form)
				if err != nil {
					return fmt.Errorf("start upload: %w", err)
				}
				if detach {
					if jsonOutput {
						return writeJSON(cmd, view)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Upload %s handed to the daemon; run `crease wait` for the result\n", view.UploadID)
					return nil
				}
				result, err := waitRemote(cmd.Context(), cmd.ErrOrStderr(), client, view, ctx.cachedResult)
				return reportOutcome(cmd, result, err, jsonOutput)
			}

			if detach {
				return errors.New("--detach needs a running daemon; start one with `crease run`")
			}
			return ctx.withLocalDaemon(cmd.Context(), func(runCtx context.Context, d *daemon.Daemon) error {
				outcome, err := d.StartUploadOutcome(runCtx, form)
				if err != nil {
					return fmt.Errorf("start upload: %w", err)
				}
				result, err := waitLocal(runCtx, cmd.ErrOrStderr(), d, outcome)
				return reportOutcome(cmd, result, err, jsonOutput)
			})
		},
	}

	cmd.Flags().StringVar(&flags.player, "player", string(analysis.PlayerBatsman), "Player type: batsman or bowler")
	cmd.Flags().StringVar(&flags.side, "side", string(analysis.SideRight), "Batting or bowling side: left or right")
	cmd.Flags().StringVar(&flags.bowlerType, "bowler-type", "", "Bowler type: fast or spin (default fast)")
	cmd.Flags().StringVar(&flags.shot, "shot", "", "Shot type, e.g. "+strings.Join(analysis.ShotTypes, ", "))
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&detach, "detach", false, "Return once a running daemon has accepted the upload")
	return cmd
}

func newWaitCommand(ctx *commandContext, use, short, emptyMessage string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if client, ok := ctx.daemonClient(cmd.Context()); ok {
				view, err := client.Upload(cmd.Context())
				if errors.Is(err, upload.ErrNoUpload) {
					fmt.Fprintln(cmd.OutOrStdout(), emptyMessage)
					return nil
				}
				if err != nil {
					return err
				}
				result, err := waitRemote(cmd.Context(), cmd.ErrOrStderr(), client, view, ctx.cachedResult)
				return reportOutcome(cmd, result, err, jsonOutput)
			}

			return ctx.withLocalDaemon(cmd.Context(), func(runCtx context.Context, d *daemon.Daemon) error {
				outcome, err := d.WaitForOutcome(runCtx)
				if errors.Is(err, upload.ErrNoUpload) {
					fmt.Fprintln(cmd.OutOrStdout(), emptyMessage)
					return nil
				}
				if err != nil {
					return err
				}
				result, err := waitLocal(runCtx, cmd.ErrOrStderr(), d, outcome)
				return reportOutcome(cmd, result, err, jsonOutput)
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon and current upload",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ctx.currentStatus(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			writeLines(out, renderSectionHeader("crease", colorize))
			if status.Running {
				fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
				fmt.Fprintln(out, renderField("Lifecycle", status.Lifecycle))
			} else {
				fmt.Fprintln(out, renderStatusLine("Daemon", statusInfo, "Not running", colorize))
			}
			if status.LoggedIn {
				fmt.Fprintln(out, renderStatusLine("Session", statusOK, status.Username, colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine("Session", statusWarn, "Not logged in", colorize))
			}
			fmt.Fprintln(out, renderField("Backend", status.BackendURL))
			fmt.Fprintln(out, renderField("Database", status.DatabasePath))
			fmt.Fprintln(out)
			renderUploadView(out, status.Upload, colorize)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the current upload",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if client, ok := ctx.daemonClient(cmd.Context()); ok {
				err := client.CancelUpload(cmd.Context())
				if errors.Is(err, upload.ErrNoUpload) {
					fmt.Fprintln(out, "No upload in progress")
					return nil
				}
				if err != nil {
					return fmt.Errorf("cancel upload: %w", err)
				}
				fmt.Fprintln(out, "Upload cancelled")
				return nil
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			lock := flock.New(cfg.LockPath())
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !locked {
				return fmt.Errorf("%w; stop it before cancelling", daemon.ErrAlreadyRunning)
			}
			defer lock.Unlock()

			return ctx.withStore(func(store *uploadstore.Store) error {
				rec, err := store.Load(cmd.Context())
				if err != nil && !errors.Is(err, uploadstore.ErrRecordVersion) {
					return err
				}
				if rec == nil && err == nil {
					fmt.Fprintln(out, "No upload in progress")
					return nil
				}
				if err := store.Delete(cmd.Context()); err != nil {
					return fmt.Errorf("clear upload record: %w", err)
				}
				fmt.Fprintln(out, "Upload cancelled")
				return nil
			})
		},
	}
}

// currentStatus asks a running daemon, or assembles the same summary from
// local state when none answers.
func (c *commandContext) currentStatus(ctx context.Context) (*statusapi.Status, error) {
	if client, ok := c.daemonClient(ctx); ok {
		return client.Status(ctx)
	}

	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	status := &statusapi.Status{
		BackendURL:   cfg.API.BaseURL,
		DatabasePath: cfg.DatabasePath(),
		LockFilePath: cfg.LockPath(),
	}
	if state, err := session.NewFileStore(cfg.SessionPath()).Load(); err == nil && !state.Empty() {
		status.LoggedIn = true
		status.Username = state.User.Username
	}
	err = c.withStore(func(store *uploadstore.Store) error {
		rec, err := store.Load(ctx)
		if err != nil {
			if errors.Is(err, uploadstore.ErrRecordVersion) {
				return nil
			}
			return err
		}
		status.Upload = uploadViewFromRecord(rec, time.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// cachedResult looks up a finished analysis in the local results cache.
func (c *commandContext) cachedResult(ctx context.Context, filename string) (*analysis.Result, error) {
	var result *analysis.Result
	err := c.withStore(func(store *uploadstore.Store) error {
		cached, err := store.GetResult(ctx, filename)
		if err != nil {
			return err
		}
		if cached != nil {
			result = cached.Result
		}
		return nil
	})
	return result, err
}

type resultLookup func(ctx context.Context, filename string) (*analysis.Result, error)

// waitRemote polls the daemon until the upload identified by view settles.
// A record cleared before it was observed as terminal falls back to the
// local results cache.
func waitRemote(ctx context.Context, progress io.Writer, client *statusapi.Client, view *statusapi.UploadView, lookup resultLookup) (*analysis.Result, error) {
	uploadID := view.UploadID
	filename := analysis.SecureFilename(view.VideoName)
	reporter := newProgressReporter(progress)

	ticker := time.NewTicker(remotePollInterval)
	defer ticker.Stop()
	for {
		reporter.observe(view)
		switch uploadstore.Status(view.Status) {
		case uploadstore.StatusCompleted:
			return view.Result, nil
		case uploadstore.StatusFailed:
			return nil, fmt.Errorf("upload failed: %s", view.Error)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		next, err := client.Upload(ctx)
		switch {
		case errors.Is(err, upload.ErrNoUpload):
			return lookupCleared(ctx, lookup, filename)
		case err != nil:
			return nil, err
		case next.UploadID != uploadID:
			return nil, fmt.Errorf("%w: upload %s was replaced by %s", upload.ErrCancelled, uploadID, next.UploadID)
		}
		view = next
	}
}

func lookupCleared(ctx context.Context, lookup resultLookup, filename string) (*analysis.Result, error) {
	if lookup != nil {
		result, err := lookup(ctx, filename)
		if err == nil && result != nil {
			return result, nil
		}
	}
	return nil, fmt.Errorf("%w: upload ended without a result", upload.ErrCancelled)
}

// waitLocal waits on an in-process outcome, reporting status changes.
func waitLocal(ctx context.Context, progress io.Writer, d *daemon.Daemon, outcome *upload.Outcome) (*analysis.Result, error) {
	reporter := newProgressReporter(progress)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if snap, ok := d.Snapshot(); ok && snap.Record != nil && snap.Record.UploadID == outcome.UploadID() {
			reporter.observe(statusapi.NewUploadView(snap, time.Now()))
		}
		select {
		case <-outcome.Done():
			return outcome.Result()
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func reportOutcome(cmd *cobra.Command, result *analysis.Result, err error, jsonOutput bool) error {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Interrupted; run `crease resume` to keep waiting for the analysis")
		}
		return err
	}
	if jsonOutput {
		return writeJSON(cmd, result)
	}
	renderResult(cmd.OutOrStdout(), result)
	return nil
}

// progressReporter prints a line whenever the upload status changes and at
// every quarter of the video sent.
type progressReporter struct {
	out      io.Writer
	status   string
	quarter  int
	disabled bool
}

func newProgressReporter(out io.Writer) *progressReporter {
	return &progressReporter{out: out, quarter: -1, disabled: out == nil || out == io.Discard}
}

func (p *progressReporter) observe(view *statusapi.UploadView) {
	if p.disabled || view == nil {
		return
	}
	if view.Status != p.status {
		p.status = view.Status
		fmt.Fprintf(p.out, "%s: %s\n", view.VideoName, view.Status)
	}
	if view.Status != string(uploadstore.StatusUploading) || view.BytesTotal <= 0 {
		return
	}
	if quarter := int(view.Progress() * 4); quarter > p.quarter {
		p.quarter = quarter
		fmt.Fprintf(p.out, "%s: sent %s of %s\n", view.VideoName, formatBytes(view.BytesSent), formatBytes(view.BytesTotal))
	}
}
