package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
)

const (
	containerUser   = "1000"
	containerUID    = 1000
	stopTimeoutSecs = 10

	// Resource limits.
	memoryLimitBytes = 2 * 1024 * 1024 * 1024 // 2GB
	cpuQuota         = 100000                 // 1 CPU
	pidsLimit        = 512

	sandboxNetwork = "sagent-sandboxes"
	sandboxSubnet  = "172.29.0.0/16"

	// Labels carried by every sandbox container.
	labelSandbox   = "sagent.sandbox"
	labelTemplate  = "sagent.template"
	labelExpiresAt = "sagent.expires-at"
)

var previewPort = nat.Port(strconv.Itoa(PreviewPort) + "/tcp")

// DockerOptions configures the docker backend.
type DockerOptions struct {
	// Runtime is "" for the default runtime (runc) or "runsc" for gVisor.
	Runtime string
	// PublicHost is the host name browsers use to reach published ports.
	PublicHost string
	// APIKey is sent as a bearer token when the daemon sits behind an auth proxy.
	APIKey string
}

// DockerProvider runs one container per sandbox.
type DockerProvider struct {
	cli  *client.Client
	opts DockerOptions
	now  func() time.Time
}

// NewDockerProvider creates a provider from the DOCKER_* environment.
func NewDockerProvider(opts DockerOptions) (*DockerProvider, error) {
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, client.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + opts.APIKey,
		}))
	}
	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if opts.PublicHost == "" {
		opts.PublicHost = "localhost"
	}
	runtime := opts.Runtime
	if runtime == "" {
		runtime = "default"
	}
	slog.Info("Docker client initialized", "runtime", runtime)
	return &DockerProvider{cli: cli, opts: opts, now: time.Now}, nil
}

// Close releases the docker client.
func (p *DockerProvider) Close() error {
	return p.cli.Close()
}

// Ping checks that the daemon is reachable.
func (p *DockerProvider) Ping(ctx context.Context) error {
	_, err := p.cli.Ping(ctx)
	return err
}

// imageFor maps a template name to an image reference.
func imageFor(template string) string {
	if template == "" {
		template = DefaultTemplate
	}
	if strings.Contains(template, ":") {
		return template
	}
	return template + ":latest"
}

// Create starts a container from the template image and publishes the preview
// port on an ephemeral host port.
func (p *DockerProvider) Create(ctx context.Context, template string, timeout time.Duration) (Sandbox, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	name := "sagent-" + uuid.NewString()[:12]
	expiresAt := p.now().Add(timeout)

	config := &container.Config{
		Image:        imageFor(template),
		User:         containerUser,
		WorkingDir:   WorkDir,
		ExposedPorts: nat.PortSet{previewPort: struct{}{}},
		Labels: map[string]string{
			labelSandbox:   "true",
			labelTemplate:  template,
			labelExpiresAt: expiresAt.UTC().Format(time.RFC3339),
		},
	}

	hostConfig := &container.HostConfig{
		Runtime:     p.opts.Runtime,
		NetworkMode: container.NetworkMode(sandboxNetwork),
		PortBindings: nat.PortMap{
			previewPort: []nat.PortBinding{{HostIP: "0.0.0.0"}},
		},
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
		DNS: []string{"8.8.8.8", "8.8.4.4"},
	}

	slog.Info("Creating sandbox", "name", name, "template", template, "expires_at", expiresAt)
	resp, err := p.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := p.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil && !errors.Is(removeErr, context.Canceled) {
			slog.Warn("Failed to remove container after start failure", "container_id", resp.ID, "error", removeErr)
		}
		return nil, fmt.Errorf("start container %s: %w", resp.ID, err)
	}

	// gVisor's netstack often fails against Docker's embedded DNS.
	if p.opts.Runtime == "runsc" {
		if err := p.fixDNS(ctx, resp.ID); err != nil {
			slog.Warn("Failed to apply DNS fix", "error", err)
		}
	}

	sbx, err := p.Connect(ctx, resp.ID)
	if err != nil {
		return nil, err
	}
	slog.Info("Sandbox started", "sandbox_id", sbx.ID(), "host", sbx.Host(PreviewPort))
	return sbx, nil
}

// Connect inspects the container and returns a handle to it.
func (p *DockerProvider) Connect(ctx context.Context, id string) (Sandbox, error) {
	inspect, err := p.cli.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("sandbox %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("inspect container %s: %w", id, err)
	}
	if inspect.Config == nil || inspect.Config.Labels[labelSandbox] != "true" {
		return nil, fmt.Errorf("container %s is not a sandbox: %w", id, ErrNotFound)
	}
	if expired(inspect.Config.Labels, p.now()) {
		return nil, fmt.Errorf("sandbox %s: %w", id, ErrExpired)
	}
	if inspect.State == nil || !inspect.State.Running {
		return nil, fmt.Errorf("sandbox %s is not running: %w", id, ErrNotFound)
	}

	var ports nat.PortMap
	if inspect.NetworkSettings != nil {
		ports = inspect.NetworkSettings.Ports
	}
	return &dockerSandbox{
		p:     p,
		id:    shortID(inspect.ID),
		full:  inspect.ID,
		ports: ports,
	}, nil
}

// Kill stops and removes a sandbox container. Removing a missing container succeeds.
func (p *DockerProvider) Kill(ctx context.Context, id string) error {
	slog.Info("Stopping sandbox", "sandbox_id", id)

	timeout := stopTimeoutSecs
	if err := p.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		slog.Debug("Container stop returned error, continuing to remove", "sandbox_id", id, "error", err)
	}

	if err := p.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			return nil
		}
		if ctx.Err() != nil {
			slog.Debug("Context canceled during remove, container may still be removed", "sandbox_id", id, "error", err)
			return nil
		}
		return fmt.Errorf("remove container %s: %w", id, err)
	}

	slog.Info("Sandbox stopped and removed", "sandbox_id", id)
	return nil
}

// EnsureNetwork creates the sandbox bridge network if it doesn't exist.
func (p *DockerProvider) EnsureNetwork(ctx context.Context) (string, error) {
	networks, err := p.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("list networks: %w", err)
	}
	for _, nw := range networks {
		if nw.Name == sandboxNetwork {
			slog.Info("Sandbox network already exists", "network_id", nw.ID)
			return nw.ID, nil
		}
	}

	createResp, err := p.cli.NetworkCreate(ctx, sandboxNetwork, network.CreateOptions{
		Driver: "bridge",
		IPAM: &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: sandboxSubnet}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create network %s: %w", sandboxNetwork, err)
	}

	slog.Info("Sandbox network created", "network_id", createResp.ID, "subnet", sandboxSubnet)
	return createResp.ID, nil
}

// fixDNS forces public DNS servers into /etc/resolv.conf.
func (p *DockerProvider) fixDNS(ctx context.Context, containerID string) error {
	res, err := p.exec(ctx, containerID, "root", "echo 'nameserver 8.8.8.8' > /etc/resolv.conf && echo 'nameserver 8.8.4.4' >> /etc/resolv.conf")
	if err != nil {
		return fmt.Errorf("dns fix: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("dns fix command failed with exit code %d", res.ExitCode)
	}
	return nil
}

// exec runs cmd through a login shell and waits for it to exit.
func (p *DockerProvider) exec(ctx context.Context, containerID, user, cmd string) (CommandResult, error) {
	resp, err := p.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{"sh", "-lc", cmd},
		User:         user,
		WorkingDir:   WorkDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return CommandResult{}, fmt.Errorf("create exec in container %s: %w", containerID, err)
	}

	attach, err := p.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{})
	if err != nil {
		return CommandResult{}, fmt.Errorf("attach to exec %s: %w", resp.ID, err)
	}
	defer attach.Close()

	// The hijacked stream ignores ctx; closing it unblocks the copy.
	stop := context.AfterFunc(ctx, attach.Close)
	defer stop()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		if ctx.Err() != nil {
			return CommandResult{}, ctx.Err()
		}
		return CommandResult{}, fmt.Errorf("read exec output: %w", err)
	}

	inspect, err := p.cli.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return CommandResult{}, fmt.Errorf("inspect exec %s: %w", resp.ID, err)
	}
	return CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

type dockerSandbox struct {
	p     *DockerProvider
	id    string
	full  string
	ports nat.PortMap
}

func (s *dockerSandbox) ID() string { return s.id }

func (s *dockerSandbox) Host(port int) string {
	bindings := s.ports[nat.Port(strconv.Itoa(port)+"/tcp")]
	for _, b := range bindings {
		if b.HostPort != "" {
			return s.p.opts.PublicHost + ":" + b.HostPort
		}
	}
	return s.p.opts.PublicHost + ":" + strconv.Itoa(port)
}

func (s *dockerSandbox) Run(ctx context.Context, cmd string) (CommandResult, error) {
	return s.p.exec(ctx, s.full, containerUser, cmd)
}

// mustRun runs cmd and turns a non-zero exit into an error carrying stderr.
func (s *dockerSandbox) mustRun(ctx context.Context, cmd string) (CommandResult, error) {
	res, err := s.Run(ctx, cmd)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = "exit code " + strconv.Itoa(res.ExitCode)
		}
		return res, errors.New(msg)
	}
	return res, nil
}

func (s *dockerSandbox) ReadFile(ctx context.Context, p string) (string, error) {
	rc, _, err := s.p.cli.CopyFromContainer(ctx, s.full, Resolve(p))
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", fmt.Errorf("%s: no such file", p)
		}
		return "", fmt.Errorf("copy %s from sandbox: %w", p, err)
	}
	defer rc.Close()
	return readTarFile(rc)
}

func (s *dockerSandbox) WriteFile(ctx context.Context, p, data string) error {
	abs := Resolve(p)
	dir := path.Dir(abs)
	if _, err := s.mustRun(ctx, "mkdir -p "+shellQuote(dir)); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	archive, err := buildTar(path.Base(abs), []byte(data), s.p.now())
	if err != nil {
		return err
	}
	if err := s.p.cli.CopyToContainer(ctx, s.full, dir, archive, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy %s to sandbox: %w", p, err)
	}
	return nil
}

func (s *dockerSandbox) Rename(ctx context.Context, oldPath, newPath string) (EntryInfo, error) {
	from, to := Resolve(oldPath), Resolve(newPath)
	cmd := fmt.Sprintf("mkdir -p %s && mv -f -- %s %s && if [ -d %s ]; then echo dir; else echo file; fi",
		shellQuote(path.Dir(to)), shellQuote(from), shellQuote(to), shellQuote(to))
	res, err := s.mustRun(ctx, cmd)
	if err != nil {
		return EntryInfo{}, fmt.Errorf("rename %s: %w", oldPath, err)
	}
	return EntryInfo{Name: path.Base(to), Type: strings.TrimSpace(res.Stdout), Path: to}, nil
}

func (s *dockerSandbox) Remove(ctx context.Context, p string) error {
	if _, err := s.mustRun(ctx, "rm -rf -- "+shellQuote(Resolve(p))); err != nil {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}

func (s *dockerSandbox) MakeDir(ctx context.Context, p string) error {
	if _, err := s.mustRun(ctx, "mkdir -p -- "+shellQuote(Resolve(p))); err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	return nil
}

func (s *dockerSandbox) List(ctx context.Context, dir string) ([]EntryInfo, error) {
	abs := Resolve(dir)
	res, err := s.mustRun(ctx, "ls -1Ap -- "+shellQuote(abs))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	return parseListing(abs, res.Stdout), nil
}

// parseListing turns `ls -1Ap` output into entries. Directories end in a slash.
func parseListing(dir, out string) []EntryInfo {
	var entries []EntryInfo
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		typ := EntryFile
		if strings.HasSuffix(line, "/") {
			typ = EntryDir
			line = strings.TrimSuffix(line, "/")
		}
		entries = append(entries, EntryInfo{Name: line, Type: typ, Path: path.Join(dir, line)})
	}
	return entries
}

// buildTar packs a single file for CopyToContainer.
func buildTar(name string, data []byte, modTime time.Time) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		Uid:     containerUID,
		Gid:     containerUID,
		ModTime: modTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("write tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return nil, fmt.Errorf("write tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	return &buf, nil
}

// readTarFile returns the content of the first regular file in a tar stream.
func readTarFile(r io.Reader) (string, error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", errors.New("archive holds no regular file")
		}
		if err != nil {
			return "", fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag == tar.TypeDir {
			return "", fmt.Errorf("%s is a directory", hdr.Name)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			return "", fmt.Errorf("read tar body: %w", err)
		}
		return string(b), nil
	}
}

// expired reports whether the expiry label is at or before now. Missing labels never expire.
func expired(labels map[string]string, now time.Time) bool {
	v, ok := labels[labelExpiresAt]
	if !ok {
		return false
	}
	at, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return false
	}
	return !at.After(now)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func ptr[T any](v T) *T {
	return &v
}
