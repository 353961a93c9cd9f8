package syncd

import (
	"strings"

	"omnimem/internal/types"
)

// Classifier tables: the first matching pattern decides the failure class.
var (
	authPatterns = []string{
		"authentication failed",
		"permission denied (publickey)",
		"bad credentials",
		"invalid username or password",
		"fatal: could not read username",
	}
	networkPatterns = []string{
		"could not resolve host",
		"connection reset",
		"connection refused",
		"connection timed out",
		"tls",
		"network is unreachable",
	}
	conflictPatterns = []string{
		"non-fast-forward",
		"merge conflict",
		"needs merge",
		"cannot rebase",
		"your local changes to the following files would be overwritten",
	}
)

// classify maps a raw git failure into the error taxonomy. Auth and
// conflict failures are permanent; network and unknown failures are worth
// another attempt.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())

	for _, p := range authPatterns {
		if strings.Contains(msg, p) {
			return types.WrapError(types.ErrPermanentExternal, err, "git authentication failed").
				WithRemediation("check credentials: ssh key, token, or credential helper for the sync remote")
		}
	}
	for _, p := range conflictPatterns {
		if strings.Contains(msg, p) {
			return types.WrapError(types.ErrPermanentExternal, err, "git history conflict").
				WithRemediation("resolve manually in the memory home: git pull --rebase, fix conflicts, then run sync again")
		}
	}
	for _, p := range networkPatterns {
		if strings.Contains(msg, p) {
			return types.WrapError(types.ErrTransientExternal, err, "git network failure")
		}
	}
	return types.WrapError(types.ErrTransientExternal, err, "git failure")
}
