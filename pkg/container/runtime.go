// Package container wraps the containerd client used to spawn, label,
// heartbeat, and tear down the sandboxed agent containers a group's
// conversation runs inside (spec §4.4), plus the warm pool that keeps a
// few ready containers around so a turn rarely pays a cold-start cost.
package container

import (
	"context"
	"fmt"
	"strconv"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/hearth-ai/assistant/pkg/config"
)

// Namespace is the containerd namespace every managed container lives in.
const Namespace = "assistant"

// sandboxUID/sandboxGID is the non-root identity every spawned container
// runs as (spec §4.4: "drops to non-root").
const (
	sandboxUID = 10001
	sandboxGID = 10001
)

// Spec describes one container to spawn.
type Spec struct {
	Group        string
	Image        string
	Env          []string
	WorkspaceDir string // group workspace, mounted read-write
	IPCDir       string // shared IPC directory, mounted read-write
	SessionDir   string // session scratch dir, mounted read-write
	MemoryLimit  string // e.g. "512m"
	CPUQuota     string // e.g. "0.5" cores
}

// Runtime is a thin wrapper over a containerd client scoped to the
// assistant's namespace.
type Runtime struct {
	client *containerd.Client
}

// Dial connects to the containerd socket.
func Dial(socketPath string) (*Runtime, error) {
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd at %s: %w", socketPath, err)
	}
	return &Runtime{client: client}, nil
}

// Close closes the underlying containerd client connection.
func (r *Runtime) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// Spawn pulls (if needed) and creates a container with the given spec,
// labeled managed=true,group=<name> so the orphan sweep can recognize it,
// and starts its task.
func (r *Runtime) Spawn(ctx context.Context, id string, spec Spec) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	image, err := r.client.GetImage(ctx, spec.Image)
	if err != nil {
		image, err = r.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
		if err != nil {
			return fmt.Errorf("pull image %s: %w", spec.Image, err)
		}
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(spec.Env),
		oci.WithUIDGID(sandboxUID, sandboxGID),
		oci.WithMounts(spec.mounts()),
	}
	if quota, ok := parseCPUQuota(spec.CPUQuota); ok {
		period := uint64(100000)
		opts = append(opts, oci.WithCPUCFS(quota, period))
	}
	if bytes, ok := parseMemoryLimit(spec.MemoryLimit); ok {
		opts = append(opts, oci.WithMemoryLimit(bytes))
	}

	ctr, err := r.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(map[string]string{
			"managed": "true",
			"group":   spec.Group,
		}),
	)
	if err != nil {
		return fmt.Errorf("create container %s: %w", id, err)
	}

	task, err := ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("create task for container %s: %w", id, err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("start task for container %s: %w", id, err)
	}
	return nil
}

func (s Spec) mounts() []specs.Mount {
	var mounts []specs.Mount
	add := func(src, dst string) {
		if src == "" {
			return
		}
		mounts = append(mounts, specs.Mount{
			Source:      src,
			Destination: dst,
			Type:        "bind",
			Options:     []string{"rbind", "rw"},
		})
	}
	add(s.WorkspaceDir, "/workspace")
	add(s.IPCDir, "/ipc")
	add(s.SessionDir, "/session")
	return mounts
}

// Stop sends SIGTERM, waits up to timeout, then SIGKILLs and cleans up
// the task.
func (r *Runtime) Stop(ctx context.Context, id string, timeout time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	ctr, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return nil // already gone
	}
	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return nil // no running task
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal container %s: %w", id, err)
	}
	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("wait for container %s: %w", id, err)
	}
	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("force kill container %s: %w", id, err)
		}
	}
	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("delete task for container %s: %w", id, err)
	}
	return nil
}

// Remove deletes a stopped container and its snapshot.
func (r *Runtime) Remove(ctx context.Context, id string) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)
	ctr, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return nil
	}
	if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("delete container %s: %w", id, err)
	}
	return nil
}

// IsRunning reports whether id has a running task.
func (r *Runtime) IsRunning(ctx context.Context, id string) bool {
	ctx = namespaces.WithNamespace(ctx, Namespace)
	ctr, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return false
	}
	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return false
	}
	status, err := task.Status(ctx)
	if err != nil {
		return false
	}
	return status.Status == containerd.Running
}

// ManagedIDs lists the ids of every container in the assistant namespace
// carrying the managed=true label, for the startup orphan sweep.
func (r *Runtime) ManagedIDs(ctx context.Context) ([]string, error) {
	ctx = namespaces.WithNamespace(ctx, Namespace)
	containers, err := r.client.Containers(ctx, "labels.\"managed\"==true")
	if err != nil {
		return nil, fmt.Errorf("list managed containers: %w", err)
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID())
	}
	return ids, nil
}

// SpecFromConfig builds a Spec for group from the static container config.
func SpecFromConfig(group, image string, env []string, dirs Dirs, cc config.ContainerConfig) Spec {
	return Spec{
		Group:        group,
		Image:        image,
		Env:          env,
		WorkspaceDir: dirs.Workspace,
		IPCDir:       dirs.IPC,
		SessionDir:   dirs.Session,
		MemoryLimit:  cc.MemoryLimit,
		CPUQuota:     cc.CPUQuota,
	}
}

// Dirs bundles the three host paths bind-mounted into a container.
type Dirs struct {
	Workspace string
	IPC       string
	Session   string
}

func parseMemoryLimit(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	n := len(s)
	mult := uint64(1)
	switch s[n-1] {
	case 'k', 'K':
		mult = 1024
		s = s[:n-1]
	case 'm', 'M':
		mult = 1024 * 1024
		s = s[:n-1]
	case 'g', 'G':
		mult = 1024 * 1024 * 1024
		s = s[:n-1]
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v * mult, true
}

func parseCPUQuota(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	cores, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int64(cores * 100000), true
}
