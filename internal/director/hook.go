package director

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/followspot-labs/followspot-core/internal/config"
	"github.com/mattn/go-shellwords"
)

// runAdvanceHook executes the configured command after a slide change.
// The slide id and order ride in the environment so one script serves
// any presentation program.
func runAdvanceHook(ctx context.Context, cfg config.HookConfig, log *slog.Logger, slideID string, order int) {
	if cfg.OnAdvance == "" {
		return
	}
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.OnAdvance)
	if err != nil || len(args) == 0 {
		log.Warn("invalid advance hook command", slog.String("command", cfg.OnAdvance))
		return
	}

	hookCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	go func() {
		defer cancel()
		cmd := exec.CommandContext(hookCtx, args[0], args[1:]...)
		cmd.Env = append(os.Environ(),
			"FOLLOWSPOT_SLIDE_ID="+slideID,
			fmt.Sprintf("FOLLOWSPOT_SLIDE_ORDER=%d", order),
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			log.Warn("advance hook failed",
				slog.String("error", err.Error()),
				slog.String("output", string(out)))
		}
	}()
}
