package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sfwriter/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Required bool
	Detail   string
}

// RunAll executes every applicable check for one invocation.
func RunAll(ctx context.Context, cfg *config.Config, inv config.Invocation) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		required(CheckStreamAddress(inv.Address)),
		required(CheckOutputLocation("Output location", inv.OutputPath)),
		CheckFreeSpace("Output free space", inv.OutputPath, uint64(cfg.Ring.Slots)*uint64(cfg.Ring.SlotBytes)),
	}
	if strings.TrimSpace(inv.NotifyAddress) != "" {
		results = append(results, CheckUpstream(ctx, inv.NotifyAddress))
	}
	return results
}

// Failed joins the details of every failed required check.
func Failed(results []Result) error {
	var errs []error
	for _, r := range results {
		if r.Required && !r.Passed {
			errs = append(errs, fmt.Errorf("%s: %s", r.Name, r.Detail))
		}
	}
	return errors.Join(errs...)
}

func required(r Result) Result {
	r.Required = true
	return r
}
