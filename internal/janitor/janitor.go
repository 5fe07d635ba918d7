// Package janitor runs the gateway's periodic maintenance: it watches the
// token file's permissions and emits a liveness heartbeat. The token file
// is the whole security story, so a loosened mode (a careless chmod, a
// backup tool restoring 0644) gets tightened back automatically.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/robfig/cron/v3"
)

// Janitor schedules maintenance jobs with cron.
type Janitor struct {
	tokenPath string
	logger    *slog.Logger
	cron      *cron.Cron
}

// New creates a janitor for the given token file.
func New(tokenPath string, logger *slog.Logger) *Janitor {
	return &Janitor{
		tokenPath: tokenPath,
		logger:    logger.With("component", "janitor"),
		cron:      cron.New(),
	}
}

// Run schedules the jobs and blocks until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	if _, err := j.cron.AddFunc("@every 30s", j.checkTokenPermissions); err != nil {
		return fmt.Errorf("schedule permission check: %w", err)
	}
	if _, err := j.cron.AddFunc("@every 5m", func() {
		j.logger.Debug("janitor heartbeat")
	}); err != nil {
		return fmt.Errorf("schedule heartbeat: %w", err)
	}

	j.cron.Start()
	<-ctx.Done()

	stopCtx := j.cron.Stop()
	<-stopCtx.Done()
	return nil
}

// checkTokenPermissions tightens the token file back to 0600 if anything
// widened it. A missing file is fine: that is a revoked token.
func (j *Janitor) checkTokenPermissions() {
	j.CheckOnce()
}

// CheckOnce performs a single permission sweep. Split out so tests and
// startup can run it without the scheduler.
func (j *Janitor) CheckOnce() {
	info, err := os.Stat(j.tokenPath)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Warn("cannot stat token file", "error", err)
		}
		return
	}

	if perm := info.Mode().Perm(); perm&0077 != 0 {
		j.logger.Warn("token file permissions loosened, tightening", "mode", fmt.Sprintf("%o", perm))
		if err := os.Chmod(j.tokenPath, 0600); err != nil {
			j.logger.Error("cannot tighten token file permissions", "error", err)
		}
	}
}
