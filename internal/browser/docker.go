package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"
)

const chromeImage = "browserless/chrome:latest"

// ChromeInstance is a containerized chrome the playwright driver attaches
// to over CDP.
type ChromeInstance struct {
	ContainerID string
	CDPURL      string
	Port        string
}

// DockerRunner launches containerized chrome for the CDP driver. Selected
// with BROWSER_RUNNER=docker; the default runner launches chromium locally.
type DockerRunner struct {
	client *client.Client
	log    *zap.Logger
}

func NewDockerRunner(log *zap.Logger) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerRunner{client: cli, log: log}, nil
}

// EnsureImage pulls the chrome image if it is not already present.
func (r *DockerRunner) EnsureImage(ctx context.Context) error {
	images, err := r.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}

	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == chromeImage {
				return nil
			}
		}
	}

	r.log.Info("pulling chrome image", zap.String("image", chromeImage))
	reader, err := r.client.ImagePull(ctx, chromeImage, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Launch starts one chrome container and waits for its CDP endpoint.
func (r *DockerRunner) Launch(ctx context.Context) (*ChromeInstance, error) {
	containerConfig := &container.Config{
		Image: chromeImage,
		Labels: map[string]string{
			"managed-by": "browsergrid",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
		},
		ExposedPorts: nat.PortSet{
			"3000/tcp": struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			"3000/tcp": []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: "0"},
			},
		},
	}

	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	inspect, err := r.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect container: %w", err)
	}

	port := inspect.NetworkSettings.Ports["3000/tcp"][0].HostPort

	if err := r.waitForChromeReady(port); err != nil {
		return nil, fmt.Errorf("chrome failed to become ready: %w", err)
	}

	r.log.Info("chrome container ready", zap.String("container", resp.ID[:12]), zap.String("port", port))

	return &ChromeInstance{
		ContainerID: resp.ID,
		CDPURL:      fmt.Sprintf("http://localhost:%s", port),
		Port:        port,
	}, nil
}

// Stop stops and removes the chrome container.
func (r *DockerRunner) Stop(ctx context.Context, containerID string) error {
	timeout := 10
	if err := r.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stop container: %w", err)
	}
	if err := r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

func (r *DockerRunner) Close() error {
	return r.client.Close()
}

// waitForChromeReady polls the /json/version endpoint until CDP answers.
func (r *DockerRunner) waitForChromeReady(port string) error {
	url := fmt.Sprintf("http://localhost:%s/json/version", port)
	maxRetries := 20

	for i := 0; i < maxRetries; i++ {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}

	return fmt.Errorf("chrome did not become ready after %d retries", maxRetries)
}
