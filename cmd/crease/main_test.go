package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crease/internal/analysis"
	"crease/internal/daemon"
	"crease/internal/logging"
	"crease/internal/testsupport"
)

func TestConfigInitAndShow(t *testing.T) {
	env := setupCLITestEnv(t)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err := runCLI(t, env, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, env, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}

	out, _, err = runCLI(t, env, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, env.backend.URL())
}

func TestConfigSetURL(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "config", "set-url", "https://coach.example.com/")
	if err != nil {
		t.Fatalf("config set-url: %v", err)
	}
	requireContains(t, out, "https://coach.example.com")

	data, err := os.ReadFile(env.configPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	requireContains(t, string(data), "https://coach.example.com")

	if _, _, err := runCLI(t, env, "config", "set-url", "ftp://nope"); err == nil {
		t.Fatal("expected unsupported scheme to fail")
	}
}

func TestLoginAndLogout(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, env, "login", "-u", "sam", "-p", "wrong"); err == nil {
		t.Fatal("expected bad password to fail")
	}

	out, _, err := runCLI(t, env, "login", "-u", "sam", "-p", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	requireContains(t, out, "Logged in as sam")

	out, _, err = runCLI(t, env, "whoami")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	requireContains(t, out, "tester")

	out, _, err = runCLI(t, env, "logout")
	if err != nil {
		t.Fatalf("logout: %v", err)
	}
	requireContains(t, out, "Logged out")

	if _, _, err := runCLI(t, env, "whoami"); !errors.Is(err, errNotLoggedIn) {
		t.Fatalf("expected errNotLoggedIn after logout, got %v", err)
	}
}

func TestDeleteAccountRequiresConfirmation(t *testing.T) {
	env := setupCLITestEnv(t)
	env.login(t)

	if _, _, err := runCLI(t, env, "delete-account"); err == nil {
		t.Fatal("expected delete-account without --yes to fail")
	}
	out, _, err := runCLI(t, env, "delete-account", "--yes")
	if err != nil {
		t.Fatalf("delete-account: %v", err)
	}
	requireContains(t, out, "Deleted account tester")
}

func TestUploadInProcess(t *testing.T) {
	env := setupCLITestEnv(t)
	env.login(t)
	env.backend.OnUpload(testsupport.ReplyUpload(testsupport.ResultFor("net_session.mp4")))
	video := testsupport.WriteVideo(t, "net session.mp4")

	out, stderr, err := runCLI(t, env, "upload", video, "--shot", "cover_drive")
	if err != nil {
		t.Fatalf("upload: %v (stderr %s)", err, stderr)
	}
	requireContains(t, out, "Cover Drive")
	requireContains(t, out, "Good balance through the shot.")
	if env.backend.UploadCount() != 1 {
		t.Fatalf("expected one upload, got %d", env.backend.UploadCount())
	}

	out, _, err = runCLI(t, env, "result", "net_session.mp4", "--cached", "--json")
	if err != nil {
		t.Fatalf("result --cached: %v", err)
	}
	var cached analysis.Result
	if err := json.Unmarshal([]byte(out), &cached); err != nil {
		t.Fatalf("decode cached result: %v", err)
	}
	if cached.ShotType != "cover_drive" {
		t.Fatalf("unexpected cached result %+v", cached)
	}
}

func TestUploadValidation(t *testing.T) {
	env := setupCLITestEnv(t)
	env.login(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "bad player", args: []string{"--player", "keeper"}},
		{name: "bad side", args: []string{"--side", "middle"}},
		{name: "bad bowler type", args: []string{"--player", "bowler", "--bowler-type", "medium"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			video := testsupport.WriteVideo(t, "clip.mp4")
			args := append([]string{"upload", video}, tc.args...)
			if _, _, err := runCLI(t, env, args...); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if env.backend.UploadCount() != 0 {
		t.Fatalf("invalid forms must not reach the backend, got %d uploads", env.backend.UploadCount())
	}
}

func TestUploadRequiresLogin(t *testing.T) {
	env := setupCLITestEnv(t)
	video := testsupport.WriteVideo(t, "clip.mp4")

	if _, _, err := runCLI(t, env, "upload", video); !errors.Is(err, errNotLoggedIn) {
		t.Fatalf("expected errNotLoggedIn, got %v", err)
	}
}

func TestUploadDelegatesToDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	env.login(t)
	env.backend.OnUpload(testsupport.ReplyUpload(testsupport.ResultFor("delivery.mp4")))

	daemonCfg := *env.cfg
	daemonCfg.Status.APIBind = "127.0.0.1:0"
	store := testsupport.MustOpenStore(t, &daemonCfg)
	d, err := daemon.New(&daemonCfg, store, env.backend.Client(), nil, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon start: %v", err)
	}
	env.cfg.Status.APIBind = d.StatusAddr()
	env.writeConfig(t)

	video := testsupport.WriteVideo(t, "delivery.mp4")
	out, _, err := runCLI(t, env, "upload", video, "--player", "bowler", "--side", "left", "--json")
	if err != nil {
		t.Fatalf("upload via daemon: %v", err)
	}
	var result analysis.Result
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Filename != "delivery.mp4" {
		t.Fatalf("unexpected result %+v", result)
	}

	out, _, err = runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Running")
}

func TestStatusWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	env.login(t)

	out, _, err := runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Not running")
	requireContains(t, out, "tester")
	requireContains(t, out, "Upload:")
}

func TestIdleUploadCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	env.login(t)

	tests := []struct {
		args []string
		want string
	}{
		{args: []string{"cancel"}, want: "No upload in progress"},
		{args: []string{"wait"}, want: "No upload in progress"},
		{args: []string{"resume"}, want: "Nothing to resume"},
	}
	for _, tc := range tests {
		t.Run(tc.args[0], func(t *testing.T) {
			out, _, err := runCLI(t, env, tc.args...)
			if err != nil {
				t.Fatalf("%s: %v", tc.args[0], err)
			}
			requireContains(t, out, tc.want)
		})
	}
}

func TestHistoryAndCompare(t *testing.T) {
	env := setupCLITestEnv(t)
	env.login(t)
	env.backend.SetHistory([]analysis.HistoryItem{
		{Filename: "drive_1.mp4", PlayerType: analysis.PlayerBatsman, ShotType: "cover_drive", BatterSide: "right"},
		{Filename: "drive_2.mp4", PlayerType: analysis.PlayerBatsman, ShotType: "cover_drive", BatterSide: "right"},
		{Filename: "pull_1.mp4", PlayerType: analysis.PlayerBatsman, ShotType: "pull_shot", BatterSide: "right"},
	})

	out, _, err := runCLI(t, env, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "drive_1.mp4")
	requireContains(t, out, "Pull Shot")

	out, _, err = runCLI(t, env, "compare", "drive_1.mp4", "drive_2.mp4")
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	requireContains(t, out, "Head position improved.")
	requireContains(t, out, "+25.0%")

	if _, _, err := runCLI(t, env, "compare", "drive_1.mp4", "pull_1.mp4"); err == nil {
		t.Fatal("expected different shot types to be refused")
	}
	if _, _, err := runCLI(t, env, "compare", "drive_1.mp4", "pull_1.mp4", "--force"); err != nil {
		t.Fatalf("compare --force: %v", err)
	}

	out, _, err = runCLI(t, env, "history", "--clear")
	if err != nil {
		t.Fatalf("history --clear: %v", err)
	}
	requireContains(t, out, "History cleared")
	out, _, err = runCLI(t, env, "history")
	if err != nil {
		t.Fatalf("history after clear: %v", err)
	}
	requireContains(t, out, "No analyses yet")
}

func TestResultFetchesAndCaches(t *testing.T) {
	env := setupCLITestEnv(t)
	env.login(t)
	env.backend.SetResult("drive.mp4", testsupport.ResultFor("drive.mp4"))

	if _, _, err := runCLI(t, env, "result", "missing.mp4"); err == nil {
		t.Fatal("expected missing result to fail")
	}
	out, _, err := runCLI(t, env, "result", "drive.mp4")
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	requireContains(t, out, "Good balance through the shot.")

	env.backend.Server.Close()
	out, stderr, err := runCLI(t, env, "result", "drive.mp4")
	if err != nil {
		t.Fatalf("result with backend down: %v", err)
	}
	requireContains(t, out, "Good balance through the shot.")
	requireContains(t, stderr, "cached")
}

func TestPlanGenerateAndShow(t *testing.T) {
	env := setupCLITestEnv(t)
	env.login(t)
	env.backend.SetResult("drive.mp4", testsupport.ResultFor("drive.mp4"))

	if _, _, err := runCLI(t, env, "plan", "show", "drive.mp4"); err == nil || !strings.Contains(err.Error(), "plan generate") {
		t.Fatalf("expected hint to generate a plan, got %v", err)
	}
	if _, _, err := runCLI(t, env, "plan", "generate", "drive.mp4", "--days", "0"); err == nil {
		t.Fatal("expected --days 0 to fail")
	}

	out, _, err := runCLI(t, env, "plan", "generate", "drive.mp4", "--days", "3")
	if err != nil {
		t.Fatalf("plan generate: %v", err)
	}
	requireContains(t, out, "(3 days)")
	requireContains(t, out, "Day 3: Front foot stride")

	out, _, err = runCLI(t, env, "plan", "show", "drive.mp4")
	if err != nil {
		t.Fatalf("plan show: %v", err)
	}
	requireContains(t, out, "Throwdowns")
}

func TestDoctor(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "doctor")
	if err == nil {
		t.Fatal("expected doctor to fail without a session")
	}
	requireContains(t, out, "Analysis backend")
	requireContains(t, out, "not logged in")

	env.login(t)
	out, _, err = runCLI(t, env, "doctor")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "logged in as tester")
}

func TestTestNotify(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, env, "test-notify"); err == nil || !strings.Contains(err.Error(), "ntfy_topic") {
		t.Fatalf("expected missing topic error, got %v", err)
	}

	var title string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		title = r.Header.Get("Title")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	env.cfg.Notifications.NtfyTopic = server.URL
	env.writeConfig(t)
	stdout, _, err := runCLI(t, env, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, stdout, "Test notification sent")
	if title != "Crease - Test" {
		t.Fatalf("unexpected notification title %q", title)
	}
}
