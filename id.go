package termagent

import (
	"time"

	"github.com/google/uuid"
)

// newRunID produces a unique identifier for one loop run, with an embedded
// timestamp for log correlation: run_{YYYYMMDDTHHmmss}_{uuid}.
func newRunID() string {
	ts := time.Now().UTC().Format("20060102T150405")
	return "run_" + ts + "_" + uuid.NewString()[:8]
}
