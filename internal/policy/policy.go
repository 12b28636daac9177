// Package policy guards which commands a process may run.
package policy

import (
	"fmt"
	"strings"

	clierr "github.com/ggonzalez94/yieldmove/internal/errors"
)

// CheckCommandAllowed accepts commandPath when the allowlist is empty, holds
// "*", names the command, or names one of its parent groups ("silo" allows
// "silo withdraw").
func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	path := normalize(commandPath)
	for _, allowed := range allowlist {
		entry := normalize(allowed)
		if entry == "*" || entry == path || strings.HasPrefix(path, entry+" ") {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, fmt.Sprintf("command %q blocked by --enable-commands policy", path))
}

func normalize(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}
