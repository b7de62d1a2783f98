package toolproxy

import (
	"bytes"
	"context"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bismarkhq/bismark/internal/eventbus"
)

// ghRequest is the body of every /gh/* request (spec §4.9).
type ghRequest struct {
	Args  []string `json:"args"`
	Stdin string   `json:"stdin,omitempty"`
}

// ghResponse is the stable wire contract for every /gh/* response.
type ghResponse struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exitCode,omitempty"`
	Error    string `json:"error,omitempty"`
}

const ghInvocationTimeout = 60 * time.Second

func (s *Server) handleGH(path string, subcommand []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ghRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, ghResponse{Success: false, Error: "invalid request body: " + err.Error()})
				return
			}
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), ghInvocationTimeout)
		defer cancel()

		args := append(append([]string{}, subcommand...), req.Args...)
		stdout, stderr, exitCode, err := s.runner.Run(ctx, args, req.Stdin)

		success := err == nil && exitCode == 0
		resp := ghResponse{Success: success, Stdout: stdout, Stderr: stderr, ExitCode: exitCode}
		if err != nil {
			resp.Error = err.Error()
		}

		s.auditInvocation(path, args, success, exitCode)

		status := http.StatusOK
		if !success {
			status = http.StatusBadGateway
		}
		c.JSON(status, resp)
	}
}

func (s *Server) auditInvocation(path string, args []string, success bool, exitCode int) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.GHInvocation, eventbus.GHInvocationPayload{
		Path: path, Args: args, Success: success, ExitCode: exitCode,
	})
	s.log.Debug("gh invocation", zap.String("path", path), zap.Strings("args", args), zap.Bool("success", success))
}

// ghRunner is the real Runner, shelling out to the `gh` CLI exactly as the
// teacher's github.GHClient.run does: separate stdout/stderr buffers, with
// stderr returned alongside the process error rather than folded into it.
type ghRunner struct{}

func (r *ghRunner) Run(ctx context.Context, args []string, stdin string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	return stdout.String(), stderr.String(), exitCode, err
}
