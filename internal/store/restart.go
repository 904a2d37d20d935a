package store

import (
	"fmt"
	"os"

	"github.com/copyleftdev/SAMO/internal/config"
)

// DecisionFunc answers the single overwrite-or-abort question for a
// prior-results conflict. The reason string names the specific conflict;
// returning true destroys the prior results.
type DecisionFunc func(reason string) bool

// AutoDecision returns a DecisionFunc implementing the non-interactive
// overwrite policy.
func AutoDecision(overwrite bool) DecisionFunc {
	return func(string) bool { return overwrite }
}

// ConflictError reports a prior-results conflict the decision function
// declined to overwrite.
type ConflictError struct {
	Identity Identity
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("identity %s already has results and %s", e.Identity, e.Reason)
}

// Resolve opens the store for an identity, applying the restart
// decision against any prior results:
//
//   - no prior database: fresh run.
//   - identical config, surrogate mode "load": resume, no conflict.
//   - identical config, prior run not converged: resume from checkpoint.
//   - identical config, prior run converged: conflict.
//   - identical config, status missing or corrupt: conflict.
//   - different config for the same identity: conflict.
//
// Conflicts go through decide; a declined conflict aborts with a
// ConflictError. Resumed reports whether prior samples survive.
func Resolve(cfg *config.Config, id Identity, cfgFingerprint string, decide DecisionFunc) (s *Store, resumed bool, err error) {
	fresh := true

	if _, statErr := os.Stat(Path(cfg.Data.Dir, id)); statErr == nil {
		fresh, err = checkPrior(cfg, id, cfgFingerprint, decide)
		if err != nil {
			return nil, false, err
		}
	}

	s, err = Open(cfg.Data.Dir, id)
	if err != nil {
		return nil, false, err
	}
	if err := s.SaveConfig(cfgFingerprint); err != nil {
		s.Close()
		return nil, false, err
	}
	return s, !fresh, nil
}

// checkPrior classifies the prior results and resolves any conflict.
// Returns whether the run should start fresh (prior results destroyed).
func checkPrior(cfg *config.Config, id Identity, cfgFingerprint string, decide DecisionFunc) (fresh bool, err error) {
	prior, err := Open(cfg.Data.Dir, id)
	if err != nil {
		return false, err
	}

	stored, hasConfig, err := prior.LoadConfig()
	if err != nil {
		prior.Close()
		return false, err
	}
	status, err := prior.LoadStatus()
	if err != nil {
		prior.Close()
		return false, err
	}

	var reason string
	switch {
	case !hasConfig || stored != cfgFingerprint:
		if cfg.Surrogate.Surrogate == config.SurrogateLoad && hasConfig {
			// Loading a stored surrogate only requires the same problem;
			// thresholds may differ between runs.
			prior.Close()
			return false, nil
		}
		reason = "the inputs are different"
	case cfg.Surrogate.Surrogate == config.SurrogateOff:
		reason = "restarting is not supported for direct optimization"
	case status == nil:
		reason = "the status record is missing or corrupt"
	case status.SurrogateTrained && cfg.Surrogate.Surrogate != config.SurrogateLoad:
		reason = "the model is converged"
	default:
		// Unconverged prior run with identical inputs: resume.
		prior.Close()
		return false, nil
	}

	if !decide(reason) {
		prior.Close()
		return false, &ConflictError{Identity: id, Reason: reason}
	}
	if err := prior.Destroy(); err != nil {
		return false, err
	}
	return true, nil
}
