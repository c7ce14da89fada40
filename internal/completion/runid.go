package completion

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// NewRunID mints a run id of the form
// YYYYMMDD-HHmmss-mmm-<shortSha>-<cmdHash8>. shortSha is the commit's
// short hash (7 hex chars, as git produces); cmd is hashed down to 8
// hex chars so two runs of the same command at the same commit but
// different invocation arguments still get distinct ids.
func NewRunID(now time.Time, shortSha, cmd string) string {
	sum := sha256.Sum256([]byte(cmd))
	cmdHash8 := hex.EncodeToString(sum[:])[:8]
	return fmt.Sprintf("%s-%s-%s", now.Format("20060102-150405-000"), shortSha, cmdHash8)
}
