// Package headless runs the container-backed worker lifecycle (spec §4.8):
// a headless agent never owns a PTY, instead writing line-delimited JSON
// progress events to stdout inside a container this package supervises.
// dockerClient is adapted from the teacher's internal/agent/docker/client.go,
// trimmed to the lifecycle calls a worker actually needs (no interactive
// attach/exec, since nothing reads this container's stdin).
package headless

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/bismarkhq/bismark/internal/common/config"
	"github.com/bismarkhq/bismark/internal/common/logger"
)

// ContainerSpec describes one headless worker container.
type ContainerSpec struct {
	Name       string
	Image      string
	Cmd        []string
	Env        []string
	WorkingDir string
	Mounts     []MountSpec
	Labels     map[string]string
}

// MountSpec is one bind mount into the container (the task's worktree).
type MountSpec struct {
	Source   string
	Target   string
	ReadOnly bool
}

// containerRuntime is the subset of Docker lifecycle calls Runtime depends
// on, extracted so tests can substitute a fake instead of a real daemon.
type containerRuntime interface {
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, id string, force bool) error
	Logs(ctx context.Context, id string) (io.ReadCloser, error)
	Wait(ctx context.Context, id string) (int64, error)
	Close() error
}

// dockerClient wraps the Docker SDK client with the container lifecycle
// calls headless workers need: create, start, wait, logs, stop, remove.
type dockerClient struct {
	cli *client.Client
	cfg config.DockerConfig
	log *logger.Logger
}

var _ containerRuntime = (*dockerClient)(nil)

func newDockerClient(cfg config.DockerConfig, log *logger.Logger) (*dockerClient, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &dockerClient{cli: cli, cfg: cfg, log: log}, nil
}

func (d *dockerClient) Close() error {
	return d.cli.Close()
}

func (d *dockerClient) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: m.Source, Target: m.Target, ReadOnly: m.ReadOnly})
	}

	containerCfg := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Cmd,
		Env:        spec.Env,
		WorkingDir: spec.WorkingDir,
		Labels:     spec.Labels,
	}
	hostCfg := &container.HostConfig{
		Mounts:     mounts,
		AutoRemove: false,
	}
	if d.cfg.MemoryLimitMB > 0 {
		hostCfg.Resources.Memory = d.cfg.MemoryLimitMB * 1024 * 1024
	}
	if d.cfg.CPUQuota > 0 {
		hostCfg.Resources.CPUQuota = d.cfg.CPUQuota
	}

	resp, err := d.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		d.log.Error("failed to create container", zap.String("name", spec.Name), zap.Error(err))
		return "", fmt.Errorf("create container %s: %w", spec.Name, err)
	}
	d.log.Debug("container created", zap.String("name", spec.Name), zap.String("container_id", resp.ID))
	return resp.ID, nil
}

func (d *dockerClient) StartContainer(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		d.log.Error("failed to start container", zap.String("container_id", id), zap.Error(err))
		return fmt.Errorf("start container %s: %w", id, err)
	}
	return nil
}

func (d *dockerClient) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("stop container %s: %w", id, err)
	}
	return nil
}

func (d *dockerClient) RemoveContainer(ctx context.Context, id string, force bool) error {
	if err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force, RemoveVolumes: true}); err != nil {
		return fmt.Errorf("remove container %s: %w", id, err)
	}
	return nil
}

func (d *dockerClient) Logs(ctx context.Context, id string) (io.ReadCloser, error) {
	reader, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err != nil {
		return nil, fmt.Errorf("get container logs %s: %w", id, err)
	}
	return reader, nil
}

func (d *dockerClient) Wait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := d.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return -1, fmt.Errorf("wait for container %s: %w", id, err)
		}
		return -1, nil
	case status := <-statusCh:
		return status.StatusCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}
