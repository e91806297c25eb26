// Package goal tracks multi-turn goal progress for a conversation:
// idle, then collecting, then completed.
package goal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/edgard/inboxpilot/internal/domain"
	"github.com/edgard/inboxpilot/internal/intent"
)

// Status is the tracker state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusCollecting Status = "collecting"
	StatusCompleted  Status = "completed"
)

// State is the goal progress of one conversation. The zero value is idle.
type State struct {
	Goal      domain.Intent
	Status    Status
	Collected map[string]string
	Summary   string
	NextStep  string
}

// Config is the workspace goal configuration.
type Config struct {
	Primary   domain.Intent
	Secondary domain.Intent
	Goals     domain.GoalConfigs
}

// Transition describes what Apply did.
type Transition struct {
	Matched   bool
	Started   bool
	Abandoned domain.Intent     // goal dropped by last-intent-wins, if any
	Discarded map[string]string // fields of the abandoned goal
}

// Active reports whether a goal instance exists.
func (s State) Active() bool {
	return s.Goal != "" && s.Goal != domain.IntentNone && s.Status != StatusIdle && s.Status != ""
}

func (s State) clone() State {
	out := s
	out.Collected = make(map[string]string, len(s.Collected))
	for k, v := range s.Collected {
		out.Collected[k] = v
	}
	return out
}

// Apply feeds a detected intent into the tracker. A matching intent starts a
// goal when none is active or replaces a different one (last intent wins).
// The same goal keeps a collecting instance; after completion it starts a
// fresh one, so a completed instance itself never goes back to collecting.
func Apply(prev State, detected domain.Intent, cfg Config) (State, Transition) {
	next := prev.clone()
	if next.Status == "" {
		next.Status = StatusIdle
	}

	tr := Transition{Matched: intent.GoalMatchesWorkspace(detected, cfg.Primary, cfg.Secondary)}
	if !tr.Matched || (prev.Status == StatusCollecting && prev.Goal == detected) {
		return describe(next, cfg), tr
	}

	if prev.Active() && prev.Status == StatusCollecting {
		tr.Abandoned = prev.Goal
		tr.Discarded = prev.clone().Collected
	}
	tr.Started = true
	next = State{Goal: detected, Status: StatusCollecting, Collected: map[string]string{}}
	return complete(next, cfg), tr
}

// Collect merges fields reported for the latest turn into a collecting goal
// and completes it once every required field is present. Completed and idle
// states are returned unchanged.
func Collect(prev State, fields map[string]string, cfg Config) State {
	next := prev.clone()
	if next.Status != StatusCollecting {
		return describe(next, cfg)
	}
	allowed := allowedKeys(cfg.Goals[next.Goal])
	for k, v := range fields {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		if allowed != nil && !allowed[k] {
			continue
		}
		next.Collected[k] = v
	}
	return complete(next, cfg)
}

// Missing returns the required fields of the active goal that are still empty.
func Missing(s State, cfg Config) []domain.GoalField {
	if !s.Active() {
		return nil
	}
	var out []domain.GoalField
	for _, f := range cfg.Goals[s.Goal].Required() {
		if strings.TrimSpace(s.Collected[f.Key]) == "" {
			out = append(out, f)
		}
	}
	return out
}

func allowedKeys(gc domain.GoalConfig) map[string]bool {
	if len(gc.Fields) == 0 {
		return nil
	}
	out := make(map[string]bool, len(gc.Fields))
	for _, f := range gc.Fields {
		out[f.Key] = true
	}
	return out
}

func complete(s State, cfg Config) State {
	if s.Status == StatusCollecting && len(Missing(s, cfg)) == 0 {
		s.Status = StatusCompleted
	}
	return describe(s, cfg)
}

func describe(s State, cfg Config) State {
	if !s.Active() {
		s.Summary, s.NextStep = "", ""
		return s
	}

	keys := make([]string, 0, len(s.Collected))
	for k := range s.Collected {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + s.Collected[k]
	}
	s.Summary = fmt.Sprintf("%s %s", s.Goal, s.Status)
	if len(pairs) > 0 {
		s.Summary += ": " + strings.Join(pairs, ", ")
	}

	if missing := Missing(s, cfg); len(missing) > 0 {
		s.NextStep = "ask for " + missing[0].Label
	} else {
		s.NextStep = "confirm and wrap up"
	}
	return s
}
