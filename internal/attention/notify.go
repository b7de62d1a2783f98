package attention

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// desktopNotify fires a best-effort native desktop notification, adapted
// from the teacher's internal/notifications/providers/system_provider.go
// down to the one notify-send/osascript path this system needs: no sound,
// no WSL/Windows branch, no user-configurable provider chain. Failures are
// swallowed; a missing notify-send binary must never block attention
// signalling.
func desktopNotify(title, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		script := `display notification "` + escapeAppleScript(body) + `" with title "` + escapeAppleScript(title) + `"`
		cmd = exec.CommandContext(ctx, "osascript", "-e", script)
	case "linux":
		if _, err := exec.LookPath("notify-send"); err != nil {
			return
		}
		cmd = exec.CommandContext(ctx, "notify-send", title, body)
	default:
		return
	}
	_ = cmd.Start()
}

func escapeAppleScript(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}
