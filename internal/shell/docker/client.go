// Package docker builds and pushes application images through the Docker daemon.
package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
)

// LogFunc receives one line of daemon output as it is produced.
type LogFunc func(line string)

// =============================================================================
// Client Interface
// =============================================================================

// Client is the pipeline's view of the container runtime: build an image from
// a workspace directory and push it to the registry, streaming output as it
// happens.
type Client interface {
	BuildImage(ctx context.Context, contextDir, ref string, buildArgs map[string]string, logFn LogFunc) error
	PushImage(ctx context.Context, ref string, logFn LogFunc) error
	Ping() error
	Close() error
}

// =============================================================================
// Docker Client Implementation
// =============================================================================

// DockerClient implements the Client interface using the Docker SDK.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient creates a new Docker client.
// If host is empty, it uses the default Docker host from environment.
// On macOS with Docker Desktop, it automatically detects the correct socket.
func NewDockerClient(host string) (*DockerClient, error) {
	var opts []client.Opt
	opts = append(opts, client.FromEnv)
	opts = append(opts, client.WithAPIVersionNegotiation())

	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewDockerClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	// Try to ping with default settings
	ctx := context.Background()
	if _, pingErr := cli.Ping(ctx); pingErr != nil {
		// If default socket fails, try Docker Desktop socket on macOS
		homeDir, _ := os.UserHomeDir()
		dockerDesktopSocket := "unix://" + homeDir + "/.docker/run/docker.sock"

		cli2, err2 := client.NewClientWithOpts(
			client.WithHost(dockerDesktopSocket),
			client.WithAPIVersionNegotiation(),
		)
		if err2 == nil {
			if _, pingErr2 := cli2.Ping(ctx); pingErr2 == nil {
				cli.Close()
				return &DockerClient{cli: cli2}, nil
			}
			cli2.Close()
		}
	}

	return &DockerClient{cli: cli}, nil
}

// Ping checks if the Docker daemon is reachable.
func (d *DockerClient) Ping() error {
	ctx := context.Background()
	_, err := d.cli.Ping(ctx)
	if err != nil {
		return NewDockerError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Image Operations
// =============================================================================

// BuildImage builds contextDir into an image tagged ref, forwarding daemon
// output to logFn line by line. The build fails as a whole if the daemon
// reports an error partway through the stream.
func (d *DockerClient) BuildImage(ctx context.Context, contextDir, ref string, buildArgs map[string]string, logFn LogFunc) error {
	if info, err := os.Stat(contextDir); err != nil || !info.IsDir() {
		return NewDockerError("BuildImage", "image", ref, fmt.Sprintf("build context %s not found", contextDir), ErrContextMissing)
	}

	buildCtx, err := tarDirectory(contextDir)
	if err != nil {
		return NewDockerError("BuildImage", "image", ref, fmt.Sprintf("failed to pack build context: %v", err), ErrBuildFailed)
	}

	args := make(map[string]*string, len(buildArgs))
	for k, v := range buildArgs {
		args[k] = &v
	}

	resp, err := d.cli.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:       []string{ref},
		Dockerfile: "Dockerfile",
		BuildArgs:  args,
		Remove:     true,
	})
	if err != nil {
		return NewDockerError("BuildImage", "image", ref, err.Error(), ErrBuildFailed)
	}
	defer resp.Body.Close()

	if err := streamOutput(resp.Body, logFn); err != nil {
		return NewDockerError("BuildImage", "image", ref, fmt.Sprintf("docker build failed: %v", err), ErrBuildFailed)
	}
	return nil
}

// PushImage pushes a previously built image to its registry, forwarding
// progress to logFn.
func (d *DockerClient) PushImage(ctx context.Context, ref string, logFn LogFunc) error {
	// The daemon requires an auth header even for anonymous registries.
	authB64, err := registry.EncodeAuthConfig(registry.AuthConfig{})
	if err != nil {
		return NewDockerError("PushImage", "image", ref, err.Error(), ErrPushFailed)
	}

	reader, err := d.cli.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: authB64})
	if err != nil {
		if client.IsErrNotFound(err) || strings.Contains(err.Error(), "does not exist") {
			return NewDockerError("PushImage", "image", ref, "image not found", ErrImageNotFound)
		}
		return NewDockerError("PushImage", "image", ref, err.Error(), ErrPushFailed)
	}
	defer reader.Close()

	if err := streamOutput(reader, logFn); err != nil {
		return NewDockerError("PushImage", "image", ref, fmt.Sprintf("docker push failed: %v", err), ErrPushFailed)
	}
	return nil
}

// =============================================================================
// Stream Decoding
// =============================================================================

// streamOutput decodes the daemon's JSON progress stream and forwards
// printable lines to logFn. A message carrying errorDetail aborts the stream.
func streamOutput(r io.Reader, logFn LogFunc) error {
	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if msg.Error != nil {
			return msg.Error
		}
		if logFn == nil {
			continue
		}
		switch {
		case msg.Stream != "":
			for _, line := range splitLines(msg.Stream) {
				logFn(line)
			}
		case msg.Status != "":
			if msg.ID != "" {
				logFn(msg.ID + ": " + msg.Status)
			} else {
				logFn(msg.Status)
			}
		}
	}
}

func splitLines(chunk string) []string {
	chunk = strings.TrimRight(chunk, "\n")
	if chunk == "" {
		return nil
	}
	return strings.Split(chunk, "\n")
}

// =============================================================================
// Build Context
// =============================================================================

// tarDirectory packs dir into an uncompressed tar archive suitable as a build
// context. Version control metadata is excluded.
func tarDirectory(dir string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}
