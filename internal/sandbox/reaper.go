package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
)

// Sweeper removes sandboxes past their lifetime.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// StartReaper runs a background goroutine that periodically sweeps expired
// sandboxes until ctx is canceled.
func StartReaper(ctx context.Context, s Sweeper, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Sandbox reaper started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				n, err := s.Sweep(ctx)
				if err != nil {
					slog.Error("Sandbox reaper sweep failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Info("Sandbox reaper cleanup completed", "removed", n)
				}
			case <-ctx.Done():
				slog.Info("Sandbox reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep removes every sandbox container whose expiry label has passed.
func (p *DockerProvider) Sweep(ctx context.Context) (int, error) {
	list, err := p.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelSandbox+"=true")),
	})
	if err != nil {
		return 0, fmt.Errorf("list sandbox containers: %w", err)
	}

	now := p.now()
	removed := 0
	for _, c := range list {
		if !expired(c.Labels, now) {
			continue
		}
		slog.Info("Sandbox reaper removing expired sandbox", "sandbox_id", shortID(c.ID), "state", c.State)
		if err := p.Kill(ctx, c.ID); err != nil {
			slog.Error("Sandbox reaper failed to remove container", "error", err, "sandbox_id", shortID(c.ID))
			continue
		}
		removed++
	}
	return removed, nil
}
