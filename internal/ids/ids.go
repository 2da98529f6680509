// Package ids generates prefixed identifiers for TreePro records.
// The prefix makes an ID self-describing in logs and audit rows
// (job_..., tr_..., rule_..., run_..., evt_...).
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a fresh identifier with the given prefix, e.g. New("job")
// yields "job_2f1c...".
func New(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// HasPrefix reports whether id carries the given prefix.
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+"_")
}
