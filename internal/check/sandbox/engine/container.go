package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"gradebox/internal/check/sandbox/result"
	"gradebox/internal/check/sandbox/spec"
	appErr "gradebox/pkg/errors"
	"gradebox/pkg/utils/logger"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/go-units"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const containerCleanupTimeout = 30 * time.Second

type containerEngine struct {
	cfg ContainerConfig
	cli dockerAPI
	uid int
	gid int
}

// NewContainer builds the containerized backend and checks the daemon is reachable.
func NewContainer(ctx context.Context, cfg ContainerConfig, cli dockerAPI) (Engine, error) {
	if cli == nil {
		return nil, appErr.Newf(appErr.BackendUnavailable, "docker client is not configured")
	}
	if cfg.Image == "" {
		cfg.Image = "safe-docker"
	}
	if _, err := cli.Ping(ctx); err != nil {
		return nil, appErr.Wrapf(err, appErr.BackendUnavailable, "docker daemon unreachable")
	}
	return &containerEngine{cfg: cfg, cli: cli, uid: os.Getuid(), gid: os.Getgid()}, nil
}

func (e *containerEngine) Kind() Kind {
	return KindContainer
}

func (e *containerEngine) containerConfig(runSpec spec.RunSpec) *container.Config {
	cfg := &container.Config{
		Image:           e.cfg.Image,
		Cmd:             runSpec.Cmd,
		Env:             runSpec.EnvList(),
		WorkingDir:      runSpec.WorkDir,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: !e.cfg.HostNetwork,
		Labels:          map[string]string{"gradebox.run": runSpec.Label},
	}
	if e.cfg.MapHostUIDGID {
		cfg.User = fmt.Sprintf("%d:%d", e.uid, e.gid)
	}
	return cfg
}

// hostConfig mounts workSource at the working directory path so paths stay identical inside
// and outside the container.
func (e *containerEngine) hostConfig(runSpec spec.RunSpec, workSource string) *container.HostConfig {
	mounts := []mount.Mount{{
		Type:   mount.TypeBind,
		Source: workSource,
		Target: runSpec.WorkDir,
	}}
	extra := append([]spec.MountSpec(nil), runSpec.ExtraMounts...)
	if m, ok := expandMount(e.cfg.ExtraMountTemplate, runSpec.Vars); ok {
		if _, err := os.Stat(m.Source); err == nil {
			extra = append(extra, m)
		}
	}
	for _, m := range extra {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	networkMode := container.NetworkMode("none")
	if e.cfg.HostNetwork {
		networkMode = "host"
	}

	hc := &container.HostConfig{
		Mounts:         mounts,
		NetworkMode:    networkMode,
		ReadonlyRootfs: !e.cfg.Writable,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		LogConfig:      logConfig(runSpec.MaxOutputBytes),
	}

	memoryMB := runSpec.Limits.MemoryMB
	if memoryMB <= 0 {
		memoryMB = e.cfg.MaxMemoryMB
	}
	if memoryMB > 0 {
		hc.Resources.Memory = memoryMB * 1024 * 1024
		hc.Resources.MemorySwap = hc.Resources.Memory
	}
	if runSpec.Limits.Processes > 0 {
		pids := runSpec.Limits.Processes
		hc.Resources.PidsLimit = &pids
	}
	hc.Resources.Ulimits = ulimits(runSpec.Limits)
	return hc
}

func ulimits(limits spec.ResourceLimit) []*units.Ulimit {
	var out []*units.Ulimit
	if limits.MaxOpenFiles > 0 {
		out = append(out, &units.Ulimit{Name: "nofile", Soft: limits.MaxOpenFiles, Hard: limits.MaxOpenFiles})
	}
	if limits.MaxFileSizeKB > 0 {
		size := limits.MaxFileSizeKB * 1024
		out = append(out, &units.Ulimit{Name: "fsize", Soft: size, Hard: size})
	}
	if limits.CPUSeconds > 0 {
		out = append(out, &units.Ulimit{Name: "cpu", Soft: limits.CPUSeconds, Hard: limits.CPUSeconds})
	}
	return out
}

func (e *containerEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.Outcome, error) {
	workSource := runSpec.WorkDir
	if e.cfg.DiscardArtifacts {
		scratch, err := os.MkdirTemp(e.cfg.ScratchDir, "gradebox-discard-")
		if err != nil {
			return result.Outcome{}, appErr.Wrapf(err, appErr.WorkDirUnusable, "create discard copy")
		}
		defer func() {
			if !e.cfg.MapHostUIDGID {
				if err := e.reclaim(ctx, scratch); err != nil {
					logger.Warn(ctx, "reclaim discard copy failed", zap.String("dir", scratch), zap.Error(err))
				}
			}
			_ = os.RemoveAll(scratch)
		}()
		if err := copyTree(runSpec.WorkDir, scratch); err != nil {
			return result.Outcome{}, appErr.Wrapf(err, appErr.WorkDirUnusable, "copy working directory")
		}
		workSource = scratch
	}

	name := "gradebox-" + uuid.NewString()
	created, err := e.cli.ContainerCreate(ctx, e.containerConfig(runSpec), e.hostConfig(runSpec, workSource), nil, nil, name)
	if err != nil {
		return result.Outcome{}, appErr.Wrapf(err, appErr.BackendUnavailable, "create container")
	}
	id := created.ID
	defer e.remove(ctx, id)

	start := time.Now()
	if err := e.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return result.Outcome{}, appErr.Wrapf(err, appErr.CheckExecutionFailed, "start container")
	}
	logs, err := e.followLogs(ctx, id, runSpec.MaxOutputBytes)
	if err != nil {
		e.kill(ctx, id)
		return result.Outcome{}, err
	}

	waitCtx, cancelWait := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWait()
	waitCh, errCh := e.cli.ContainerWait(waitCtx, id, container.WaitConditionNotRunning)

	timer := time.NewTimer(runSpec.Timeout)
	defer timer.Stop()

	outcome := result.Outcome{}
	select {
	case resp := <-waitCh:
		outcome.ExitCode = int(resp.StatusCode)
		if resp.Error != nil && resp.Error.Message != "" {
			logs.stop()
			return result.Outcome{}, appErr.Newf(appErr.CheckExecutionFailed, "wait container: %s", resp.Error.Message)
		}
	case err := <-errCh:
		logs.stop()
		return result.Outcome{}, appErr.Wrapf(err, appErr.CheckExecutionFailed, "wait container")
	case <-timer.C:
		outcome.TimedOut = true
		outcome.ExitCode = result.ExitTerminated
		e.kill(ctx, id)
		select {
		case <-waitCh:
		case <-errCh:
		case <-time.After(defaultKillWait):
		}
	case <-ctx.Done():
		e.kill(ctx, id)
		logs.stop()
		return result.Outcome{}, appErr.Wrapf(ctx.Err(), appErr.CheckExecutionFailed, "run canceled")
	}
	outcome.Duration = time.Since(start)

	if err := logs.finish(); err != nil {
		return result.Outcome{}, err
	}
	outcome.Output = logs.capture.Bytes()
	outcome.Truncated = logs.capture.Truncated()
	return outcome, nil
}

// Reclaim opens up what the container user created under dir. Runs mapped to the caller's
// uid:gid leave nothing foreign behind.
func (e *containerEngine) Reclaim(ctx context.Context, dir string) error {
	if e.cfg.MapHostUIDGID {
		return nil
	}
	return e.reclaim(ctx, dir)
}

// reclaim runs chmod in a throwaway container as the image's default user, the same identity
// that wrote the files.
func (e *containerEngine) reclaim(ctx context.Context, dir string) error {
	reclaimCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), containerCleanupTimeout)
	defer cancel()

	cfg := &container.Config{
		Image:           e.cfg.Image,
		Cmd:             []string{"chmod", "-R", "a+rwX", "--", dir},
		NetworkDisabled: true,
		Labels:          map[string]string{"gradebox.run": "reclaim"},
	}
	hc := &container.HostConfig{
		Mounts:      []mount.Mount{{Type: mount.TypeBind, Source: dir, Target: dir}},
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		CapAdd:      []string{"FOWNER"},
		LogConfig:   logConfig(0),
	}
	created, err := e.cli.ContainerCreate(reclaimCtx, cfg, hc, nil, nil, "gradebox-reclaim-"+uuid.NewString())
	if err != nil {
		return appErr.Wrapf(err, appErr.WorkDirUnusable, "create reclaim container")
	}
	defer e.remove(ctx, created.ID)
	if err := e.cli.ContainerStart(reclaimCtx, created.ID, container.StartOptions{}); err != nil {
		return appErr.Wrapf(err, appErr.WorkDirUnusable, "start reclaim container")
	}
	waitCh, errCh := e.cli.ContainerWait(reclaimCtx, created.ID, container.WaitConditionNotRunning)
	select {
	case resp := <-waitCh:
		if resp.StatusCode != 0 {
			return appErr.Newf(appErr.WorkDirUnusable, "reclaim %s exited with %d", dir, resp.StatusCode)
		}
	case err := <-errCh:
		return appErr.Wrapf(err, appErr.WorkDirUnusable, "wait for reclaim container")
	}
	return nil
}

func (e *containerEngine) kill(ctx context.Context, id string) {
	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultKillWait)
	defer cancel()
	if err := e.cli.ContainerKill(killCtx, id, "SIGKILL"); err != nil {
		logger.Warn(ctx, "kill container failed", zap.String("container_id", id), zap.Error(err))
	}
}

func (e *containerEngine) remove(ctx context.Context, id string) {
	rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), containerCleanupTimeout)
	defer cancel()
	if err := e.cli.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		logger.Warn(ctx, "remove container failed", zap.String("container_id", id), zap.Error(err))
	}
}
