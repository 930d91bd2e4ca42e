package ciadapter

import (
	"fmt"

	"github.com/theblitlabs/parity-server/internal/core/models"
	"github.com/theblitlabs/parity-server/internal/core/ports"
)

type factory func(runner *models.Runner) ports.CIAdapter

var registry = map[string]factory{
	"gitlab": func(r *models.Runner) ports.CIAdapter { return NewGitLab(r) },
}

// Resolve returns the CI adapter configured for runner. Unknown adapter
// names are a configuration error caught here rather than at call sites.
func Resolve(runner *models.Runner) (ports.CIAdapter, error) {
	f, ok := registry[runner.CIAdapter]
	if !ok {
		return nil, fmt.Errorf("unknown ci_adapter %q for runner %s", runner.CIAdapter, runner.RunnerID)
	}
	return f(runner), nil
}

// Retryable reports whether err originated from a CI adapter call that
// should be retried (network failure) rather than treated as terminal.
func Retryable(err error) bool {
	type retryableErr interface{ Retryable() bool }
	if re, ok := err.(retryableErr); ok {
		return re.Retryable()
	}
	return false
}
