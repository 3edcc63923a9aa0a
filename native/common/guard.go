package common

import (
	"strings"

	coreerrors "yieldprotocol/core/errors"
)

// ErrModulePaused is returned by Guard for paused modules.
var ErrModulePaused = coreerrors.ErrModulePaused

// PauseView reports the operator pause switches. ProtocolParams satisfies it.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused naming the first paused module. Blank
// module names are skipped.
func Guard(p PauseView, modules ...string) error {
	if p == nil {
		return nil
	}
	for _, module := range modules {
		if strings.TrimSpace(module) == "" {
			continue
		}
		if p.IsPaused(module) {
			return coreerrors.Wrap(coreerrors.ErrModulePaused, "%s", module)
		}
	}
	return nil
}
