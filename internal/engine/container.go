package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
)

const stopTimeoutSeconds = 5

// CreateContainer provisions and starts one container for the template and
// returns its id. The container runs `sleep infinity` as PID 1 so it stays
// alive for exec sessions. If start fails the created container is removed so
// no half-provisioned container leaks.
func (e *Engine) CreateContainer(ctx context.Context, template Template) (string, error) {
	if err := e.ensureImage(ctx, template.Image()); err != nil {
		return "", err
	}

	resp, err := e.client.ContainerCreate(ctx, &container.Config{
		Image:      template.Image(),
		Cmd:        []string{"sleep", "infinity"},
		Entrypoint: []string{},
		WorkingDir: WorkdirPath,
	}, &container.HostConfig{}, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return "", fmt.Errorf("container create failed: %w", err)
	}

	if err := e.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = e.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})

		return "", fmt.Errorf("container start failed: %w", err)
	}

	return resp.ID, nil
}

// RemoveContainer stops and force-removes the container.
func (e *Engine) RemoveContainer(ctx context.Context, containerID string) error {
	timeout := stopTimeoutSeconds
	_ = e.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})

	if err := e.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("container remove failed: %w", err)
	}

	return nil
}

func (e *Engine) ensureImage(ctx context.Context, ref string) error {
	if _, err := e.client.ImageInspect(ctx, ref); err == nil {
		return nil
	}

	rc, err := e.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("image pull failed (%s): %w", ref, err)
	}
	defer rc.Close()

	// The pull completes only once the response stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("image pull failed (%s): %w", ref, err)
	}

	return nil
}
