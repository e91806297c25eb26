package sandbox

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/edgard/inboxpilot/internal/database"
	"github.com/edgard/inboxpilot/internal/domain"
)

//go:embed scenarios
var builtin embed.FS

var (
	// ErrUnknownScenario is returned for a scenario id that is not built in.
	ErrUnknownScenario = errors.New("unknown sandbox scenario")
	// ErrInvalidRequest wraps every problem with a run request itself.
	ErrInvalidRequest = errors.New("invalid sandbox request")
)

// Scenario is a scripted conversation. Each step is one decision cycle; the
// messages of a step arrive together and are answered once.
type Scenario struct {
	ID          string            `yaml:"id"          json:"id"`
	Title       string            `yaml:"title"       json:"title"`
	Description string            `yaml:"description" json:"description"`
	Settings    *SettingsOverride `yaml:"settings"    json:"settings,omitempty"`
	Steps       []Step            `yaml:"steps"       json:"steps"`
}

type Step struct {
	Messages []string `yaml:"messages" json:"messages"`
}

// SettingsOverride replaces selected workspace settings for one run. Nil
// fields keep the stored value.
type SettingsOverride struct {
	ReplyLanguage     *string              `yaml:"reply_language"      json:"reply_language,omitempty"`
	AllowHashtags     *bool                `yaml:"allow_hashtags"      json:"allow_hashtags,omitempty"`
	AllowEmojis       *bool                `yaml:"allow_emojis"        json:"allow_emojis,omitempty"`
	MaxReplySentences *int                 `yaml:"max_reply_sentences" json:"max_reply_sentences,omitempty"`
	DecisionMode      *domain.DecisionMode `yaml:"decision_mode"       json:"decision_mode,omitempty"`
	PrimaryGoal       *domain.Intent       `yaml:"primary_goal"        json:"primary_goal,omitempty"`
	SecondaryGoal     *domain.Intent       `yaml:"secondary_goal"      json:"secondary_goal,omitempty"`
	Goals             domain.GoalConfigs   `yaml:"goals"               json:"goals,omitempty"`
	HoldBehavior      *domain.HoldBehavior `yaml:"hold_behavior"       json:"hold_behavior,omitempty"`
	HumanHoldMinutes  *int                 `yaml:"human_hold_minutes"  json:"human_hold_minutes,omitempty"`
}

// Apply writes the set fields onto s.
func (o *SettingsOverride) Apply(s *database.WorkspaceSettings) error {
	if o == nil {
		return nil
	}
	if o.DecisionMode != nil && !o.DecisionMode.Valid() {
		return fmt.Errorf("invalid decision mode %q", *o.DecisionMode)
	}
	if o.HoldBehavior != nil && *o.HoldBehavior != domain.HoldAISilent && *o.HoldBehavior != domain.HoldAIAllowed {
		return fmt.Errorf("invalid hold behavior %q", *o.HoldBehavior)
	}
	set(&s.ReplyLanguage, o.ReplyLanguage)
	set(&s.AllowHashtags, o.AllowHashtags)
	set(&s.AllowEmojis, o.AllowEmojis)
	set(&s.MaxReplySentences, o.MaxReplySentences)
	set(&s.DecisionMode, o.DecisionMode)
	set(&s.HoldBehavior, o.HoldBehavior)
	set(&s.HumanHoldMinutes, o.HumanHoldMinutes)
	if o.PrimaryGoal != nil {
		s.PrimaryGoal = domain.ParseIntent(string(*o.PrimaryGoal))
	}
	if o.SecondaryGoal != nil {
		s.SecondaryGoal = domain.ParseIntent(string(*o.SecondaryGoal))
	}
	if len(o.Goals) > 0 {
		merged := database.GoalConfigs{}
		for k, v := range s.Goals {
			merged[k] = v
		}
		for k, v := range o.Goals {
			merged[k] = v
		}
		s.Goals = merged
	}
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// ParseScenario decodes one scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	if len(sc.Steps) == 0 {
		return errors.New("scenario has no steps")
	}
	for i, st := range sc.Steps {
		empty := true
		for _, m := range st.Messages {
			if strings.TrimSpace(m) != "" {
				empty = false
				break
			}
		}
		if empty {
			return fmt.Errorf("scenario step %d has no messages", i+1)
		}
	}
	return nil
}

// AdHoc builds a scenario with one step per message.
func AdHoc(messages []string) (*Scenario, error) {
	sc := &Scenario{ID: "ad-hoc", Title: "Ad hoc messages"}
	for _, m := range messages {
		sc.Steps = append(sc.Steps, Step{Messages: []string{m}})
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// List returns the built-in scenarios ordered by id.
func List() ([]Scenario, error) {
	entries, err := fs.ReadDir(builtin, "scenarios")
	if err != nil {
		return nil, fmt.Errorf("failed to read built-in scenarios: %w", err)
	}
	var out []Scenario
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := builtin.ReadFile(path.Join("scenarios", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		sc, err := ParseScenario(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		out = append(out, *sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Lookup returns the built-in scenario with id.
func Lookup(id string) (*Scenario, error) {
	all, err := List()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == id {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, id)
}
