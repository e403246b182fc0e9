package smt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
)

// Result is the three-way outcome of discharging one obligation: a
// query is either proved (unsat on the negated goal),
// refuted with a counterexample model (sat), or left unknown (solver
// timeout, or a response it can't classify).
type Result int

const (
	Proved Result = iota
	Counterexample
	Unknown
)

func (r Result) String() string {
	switch r {
	case Proved:
		return "proved"
	case Counterexample:
		return "counterexample"
	default:
		return "unknown"
	}
}

// Solver drives an external SMT solver process (e.g. z3) over a
// temp-file-based query/response protocol: build *exec.Cmd, capture
// stdout/stderr, bound the run, classify the exit.
type Solver struct {
	// Bin is the solver executable, e.g. "z3". NewSolver sets "z3" when
	// given an empty name.
	Bin string
	// Timeout bounds a single solver invocation. NewSolver sets 30s, BMB's
	// documented default verify timeout (BMB_SMT_TIMEOUT_MS), when given
	// no positive value.
	Timeout time.Duration
	// TempDir is where query files are written; defaults to os.TempDir().
	TempDir string
}

// NewSolver builds a Solver from the resolved BMB_SMT_TIMEOUT_MS value
// (milliseconds; 0 or unset falls back to 30000).
func NewSolver(bin string, timeoutMS int) *Solver {
	if bin == "" {
		bin = "z3"
	}
	if timeoutMS <= 0 {
		timeoutMS = 30000
	}
	return &Solver{Bin: bin, Timeout: time.Duration(timeoutMS) * time.Millisecond}
}

// Discharge writes query (an SMT-LIB2 script ending in `(check-sat)
// (get-model)`) to a fresh temp file, invokes the solver against it,
// and classifies the response. Transient process-start failures
// (ENOMEM/EAGAIN under heavy worker fan-out, matching the driver's
// parallel module workers) are retried with bounded exponential
// backoff; a query the solver itself reports unsat/sat/unknown on is
// never retried, since retrying a deterministic answer wastes time.
func (s *Solver) Discharge(ctx context.Context, query string) (Result, map[string]string, error) {
	dir := s.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, fmt.Sprintf("bmb-vc-%s.smt2", uuid.NewString()))
	if err := os.WriteFile(path, []byte(query), 0o644); err != nil {
		return Unknown, nil, fmt.Errorf("smt: writing query file: %w", err)
	}
	defer os.Remove(path)

	b := &backoff.Backoff{
		Min:    50 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var stdout, stderr bytes.Buffer
	var runErr error
	for attempt := 0; attempt < 4; attempt++ {
		runCtx, cancel := context.WithTimeout(ctx, s.Timeout)
		stdout.Reset()
		stderr.Reset()
		cmd := exec.CommandContext(runCtx, s.Bin, "-smt2", path)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		runErr = cmd.Run()
		cancel()

		if runErr == nil {
			break
		}
		if runCtx.Err() == context.DeadlineExceeded {
			return Unknown, nil, nil
		}
		if _, isExit := runErr.(*exec.ExitError); isExit {
			// The solver ran and exited non-zero reporting its verdict
			// on stdout (common for z3 on malformed input); stop retrying.
			break
		}
		time.Sleep(b.Duration())
	}
	if runErr != nil {
		if _, isExit := runErr.(*exec.ExitError); !isExit {
			return Unknown, nil, fmt.Errorf("smt: invoking %s: %w (stderr: %s)", s.Bin, runErr, stderr.String())
		}
	}

	out := stdout.String()
	return classify(out)
}

func classify(out string) (Result, map[string]string, error) {
	trimmed := strings.TrimSpace(out)
	switch {
	case strings.HasPrefix(trimmed, "unsat"):
		return Proved, nil, nil
	case strings.HasPrefix(trimmed, "sat"):
		model := strings.TrimSpace(strings.TrimPrefix(trimmed, "sat"))
		return Counterexample, ParseCounterexample(model), nil
	default:
		return Unknown, nil, nil
	}
}
