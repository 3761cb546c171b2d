// Package sentinel rate-limits tool invocations per task and agent over a
// sliding window and decides when a run must be terminated.
package sentinel

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// TerminationPrefix marks the result of a task ended by the sentinel.
const TerminationPrefix = "SECURITY TERMINATION: "

// Config holds the sliding-window thresholds.
type Config struct {
	// Window is how far back attempts are counted. Default: 60s.
	Window time.Duration `json:"window" yaml:"window" toml:"window"`
	// Threshold is the number of attempts allowed inside the window.
	// The next attempt is denied. Default: 5.
	Threshold int `json:"threshold" yaml:"threshold" toml:"threshold"`
	// PerTool counts only attempts of the same tool. Default: true.
	PerTool *bool `json:"per_tool,omitempty" yaml:"per_tool" toml:"per_tool"`
	// MaxIdentical denies once this many identical calls (same tool and
	// payload) fall inside the window. Zero disables the check.
	MaxIdentical int `json:"max_identical,omitempty" yaml:"max_identical" toml:"max_identical"`
	// MaxErrors ends the task once the same call (tool and payload) has
	// failed with the same error this many times. Default: 3.
	MaxErrors int `json:"max_errors" yaml:"max_errors" toml:"max_errors"`
	// History is how many terminations are kept for introspection.
	// Default: 256.
	History int `json:"history" yaml:"history" toml:"history"`
	// Now overrides the clock used by Check.
	Now func() time.Time `json:"-" yaml:"-" toml:"-"`
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.MaxErrors <= 0 {
		c.MaxErrors = 3
	}
	if c.History <= 0 {
		c.History = 256
	}
	if c.PerTool == nil {
		on := true
		c.PerTool = &on
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Result is the task result recorded for a denial.
func (d Decision) Result() string {
	return TerminationPrefix + d.Reason
}

type attempt struct {
	at          time.Time
	tool        string
	fingerprint string
}

type key struct{ task, agent string }

// failure identifies one call and the error it produced.
type failure struct{ fingerprint, msg string }

// Termination records a denial for introspection.
type Termination struct {
	TaskID  string    `json:"task_id"`
	AgentID string    `json:"agent_id"`
	Tool    string    `json:"tool"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// Sentinel tracks attempts per (task, agent). It is safe for concurrent use.
type Sentinel struct {
	cfg Config

	mu           sync.Mutex
	windows      map[key][]attempt
	failures     map[key]map[failure]int
	terminations []Termination
}

// New creates a Sentinel. Zero values in cfg take the defaults.
func New(cfg Config) *Sentinel {
	return &Sentinel{
		cfg:     cfg.withDefaults(),
		windows:  make(map[key][]attempt),
		failures: make(map[key]map[failure]int),
	}
}

// Config returns the effective configuration.
func (s *Sentinel) Config() Config { return s.cfg }

// Check evaluates an attempt at the current time.
func (s *Sentinel) Check(taskID, agentID, tool string, payload any) Decision {
	return s.Evaluate(taskID, agentID, tool, payload, s.cfg.Now())
}

// Evaluate prunes the window, counts the attempts it still holds and
// records this one. The attempt is denied when the count has already
// reached the threshold.
func (s *Sentinel) Evaluate(taskID, agentID, tool string, payload any, at time.Time) Decision {
	k := key{taskID, agentID}
	fp := fingerprint(tool, payload)
	cutoff := at.Add(-s.cfg.Window)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.windows[k][:0]
	for _, a := range s.windows[k] {
		if a.at.After(cutoff) {
			kept = append(kept, a)
		}
	}

	count, identical := 0, 0
	for _, a := range kept {
		if *s.cfg.PerTool && a.tool != tool {
			continue
		}
		count++
		if a.fingerprint == fp {
			identical++
		}
	}
	s.windows[k] = append(kept, attempt{at: at, tool: tool, fingerprint: fp})

	var reason string
	switch {
	case count >= s.cfg.Threshold:
		reason = fmt.Sprintf("agent %s exceeded %d %s calls within %s on task %s",
			agentID, s.cfg.Threshold, s.scope(tool), s.cfg.Window, taskID)
	case s.cfg.MaxIdentical > 0 && identical >= s.cfg.MaxIdentical:
		reason = fmt.Sprintf("agent %s repeated an identical %q call %d times within %s on task %s",
			agentID, tool, identical, s.cfg.Window, taskID)
	default:
		return Decision{Allowed: true}
	}

	s.terminate(Termination{TaskID: taskID, AgentID: agentID, Tool: tool, Reason: reason, At: at})
	return Decision{Reason: reason}
}

// RecordResult registers the outcome of an executed call. A nil execErr
// is allowed and changes nothing. The call is denied once the same tool and
// payload have failed with the same error MaxErrors times in the task.
func (s *Sentinel) RecordResult(taskID, agentID, tool string, payload any, execErr error) Decision {
	if execErr == nil {
		return Decision{Allowed: true}
	}
	k := key{taskID, agentID}
	f := failure{fingerprint(tool, payload), execErr.Error()}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := s.failures[k]
	if seen == nil {
		seen = make(map[failure]int)
		s.failures[k] = seen
	}
	seen[f]++
	if seen[f] < s.cfg.MaxErrors {
		return Decision{Allowed: true}
	}
	reason := fmt.Sprintf("agent %s is stuck in an error loop: %q returned the same error %d times on task %s",
		agentID, tool, seen[f], taskID)
	s.terminate(Termination{TaskID: taskID, AgentID: agentID, Tool: tool, Reason: reason, At: s.cfg.Now()})
	return Decision{Reason: reason}
}

// terminate records t, keeping only the newest History entries.
// The caller holds s.mu.
func (s *Sentinel) terminate(t Termination) {
	s.terminations = append(s.terminations, t)
	if over := len(s.terminations) - s.cfg.History; over > 0 {
		s.terminations = append(s.terminations[:0], s.terminations[over:]...)
	}
}

func (s *Sentinel) scope(tool string) string {
	if *s.cfg.PerTool {
		return fmt.Sprintf("%q", tool)
	}
	return "tool"
}

// Forget drops the window for a finished task.
func (s *Sentinel) Forget(taskID, agentID string) {
	s.mu.Lock()
	delete(s.windows, key{taskID, agentID})
	delete(s.failures, key{taskID, agentID})
	s.mu.Unlock()
}

// Tracked returns the number of live windows.
func (s *Sentinel) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Terminations returns denials recorded by this sentinel, newest first.
func (s *Sentinel) Terminations() []Termination {
	s.mu.Lock()
	out := append([]Termination(nil), s.terminations...)
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	return out
}

// fingerprint is a stable hash of a tool call. Map keys are sorted by
// encoding/json, so equal payloads hash equally.
func fingerprint(tool string, payload any) string {
	b, _ := json.Marshal(payload)
	h := sha256.Sum256(append([]byte(tool+"\x00"), b...))
	return fmt.Sprintf("%x", h[:8])
}
