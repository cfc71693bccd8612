package termagent

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/armatrix/termagent/internal/phrases"
)

// Reason is the enumerated cause the loop stopped for.
type Reason string

const (
	ReasonTaskComplete    Reason = "task_complete"
	ReasonNoTools         Reason = "no_tools"
	ReasonSummarizing     Reason = "summarizing"
	ReasonRepeatedTool    Reason = "repeated_tool"
	ReasonHighFailureRate Reason = "high_failure_rate"
	ReasonTimeout         Reason = "timeout"
	ReasonMaxRounds       Reason = "max_rounds"
	ReasonUserCancel      Reason = "user_cancel"
	ReasonError           Reason = "error"
)

// Loop bounds and detector defaults.
const (
	DefaultMaxRounds = 50
	MinMaxRounds     = 10
	MaxMaxRounds     = 200

	DefaultMaxDuration      = 30 * time.Minute
	DefaultFailureWindow    = 10
	DefaultFailureThreshold = 0.5

	// repeatedRoundLimit is how many consecutive rounds may issue an
	// identical tool call before the loop is judged stuck.
	repeatedRoundLimit = 3
)

// Round is one loop iteration: the model's text, its tool-call intents,
// and the results obtained for them.
type Round struct {
	Text      string
	ToolCalls []ToolCall
	Results   []ToolResult
}

// LoopState is the detector's bookkeeping across rounds.
type LoopState struct {
	Round     int
	Start     time.Time
	Completed bool

	lastSignature  string
	repeatedRounds int
	outcomes       []bool // rolling tool-call success window
}

// recordRound folds a finished round into the state.
func (s *LoopState) recordRound(round Round, window int) {
	s.Round++

	sig := roundSignature(round.ToolCalls)
	if sig != "" && sig == s.lastSignature {
		s.repeatedRounds++
	} else if sig != "" {
		s.repeatedRounds = 1
	} else {
		s.repeatedRounds = 0
	}
	s.lastSignature = sig

	for _, res := range round.Results {
		s.outcomes = append(s.outcomes, !res.IsError)
	}
	if len(s.outcomes) > window {
		s.outcomes = s.outcomes[len(s.outcomes)-window:]
	}
}

// roundSignature fingerprints a round's tool calls by name and argument
// bytes, so "identical tool + identical arguments" is a string compare.
func roundSignature(calls []ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	h := sha256.New()
	for _, call := range calls {
		h.Write([]byte(call.Name))
		h.Write([]byte{0})
		h.Write(call.Arguments)
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:12])
}

// Detector decides, round by round, whether the loop should stop. It is a
// pure function of the round and state; the check order is deterministic
// and fixed, so when several conditions hold at once the earlier one wins
// (max_rounds before repeated_tool, and so on).
type Detector struct {
	MaxRounds        int
	MaxDuration      time.Duration
	FailureWindow    int
	FailureThreshold float64

	now func() time.Time // test hook
}

// NewDetector builds a detector with defaults applied and MaxRounds
// clamped to the configurable range.
func NewDetector(maxRounds int, maxDuration time.Duration, failureWindow int, failureThreshold float64) *Detector {
	// User-facing settings clamp to [MinMaxRounds, MaxMaxRounds] before
	// reaching here; the API itself accepts any positive bound so callers
	// (and tests) can run tightly bounded loops.
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	if maxRounds > MaxMaxRounds {
		maxRounds = MaxMaxRounds
	}
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	if failureWindow <= 0 {
		failureWindow = DefaultFailureWindow
	}
	if failureThreshold <= 0 || failureThreshold > 1 {
		failureThreshold = DefaultFailureThreshold
	}
	return &Detector{
		MaxRounds:        maxRounds,
		MaxDuration:      maxDuration,
		FailureWindow:    failureWindow,
		FailureThreshold: failureThreshold,
		now:              time.Now,
	}
}

// Evaluate classifies a finished round. It returns the stop reason and
// whether the loop should stop. The round must already be recorded into
// state via Observe.
func (d *Detector) Evaluate(state *LoopState, round Round) (Reason, bool) {
	if state.Completed {
		return ReasonTaskComplete, true
	}
	if state.Round >= d.MaxRounds {
		return ReasonMaxRounds, true
	}
	if state.repeatedRounds >= repeatedRoundLimit {
		return ReasonRepeatedTool, true
	}
	if d.failureRateExceeded(state) {
		return ReasonHighFailureRate, true
	}
	if !state.Start.IsZero() && d.now().Sub(state.Start) > d.MaxDuration {
		return ReasonTimeout, true
	}

	if len(round.ToolCalls) == 0 {
		// The phrase patterns are compiled once at package init; this
		// runs once per round.
		if phrases.MatchesIncomplete(round.Text) {
			return "", false
		}
		if phrases.MatchesSummary(round.Text) {
			return ReasonSummarizing, true
		}
		return ReasonNoTools, true
	}

	return "", false
}

// Observe folds a finished round into state before evaluation.
func (d *Detector) Observe(state *LoopState, round Round) {
	state.recordRound(round, d.FailureWindow)
}

func (d *Detector) failureRateExceeded(state *LoopState) bool {
	if len(state.outcomes) < d.FailureWindow {
		return false
	}
	failures := 0
	for _, ok := range state.outcomes {
		if !ok {
			failures++
		}
	}
	return float64(failures)/float64(len(state.outcomes)) > d.FailureThreshold
}
