package app

import (
	"context"
	"fmt"

	"jobsched/internal/command"
	"jobsched/internal/config"
	"jobsched/internal/trigger"
)

// buildTriggers maps the configured triggers onto command jobs.
func buildTriggers(cfg *config.Config) ([]trigger.Def, error) {
	settings, err := cfg.TriggerSettings()
	if err != nil {
		return nil, err
	}
	defs := make([]trigger.Def, 0, len(settings))
	for _, ts := range settings {
		defs = append(defs, trigger.Def{
			Name:     ts.Name,
			Schedule: ts.Schedule,
			Func: command.Func(command.Spec{
				Argv:    ts.Command,
				Dir:     ts.Dir,
				Env:     ts.Env,
				Timeout: ts.Timeout,
				Grace:   ts.Grace,
			}),
			Wait:         ts.Wait,
			AllowOverlap: ts.AllowOverlap,
		})
	}
	return defs, nil
}

// validateTriggers rejects schedules the trigger service would refuse, so a
// bad edit never replaces a working config.
func validateTriggers(_ context.Context, cfg *config.Config) error {
	settings, err := cfg.TriggerSettings()
	if err != nil {
		return err
	}
	for _, ts := range settings {
		if err := trigger.Validate(ts.Schedule); err != nil {
			return fmt.Errorf("trigger %q: schedule: %w", ts.Name, err)
		}
	}
	return nil
}
