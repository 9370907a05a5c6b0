// Package intent recognizes a small fixed set of app commands from raw user
// text without any model call. Matching is literal phrase and regex only; the
// parser returns nil whenever the utterance is not an unambiguous command, so
// conversational text always falls through to the model.
package intent

import (
	"regexp"
	"strings"

	"github.com/airfit/coachengine/models"
)

// Action is a recognized local command, resolved without a provider call.
type Action struct {
	Name string
	Args models.Args
}

// Known action names.
const (
	ActionShowDashboard = "show_dashboard"
	ActionOpenSettings  = "open_settings"
	ActionStartWorkout  = "start_workout"
	ActionLogWater      = "log_water"
	ActionShowProgress  = "show_progress"
)

type literalRule struct {
	phrase string
	action string
}

// Literal phrases are matched against the whole normalized utterance, never a
// substring, so "show dashboard please explain it" still reaches the model.
var literalRules = []literalRule{
	{"show dashboard", ActionShowDashboard},
	{"show my dashboard", ActionShowDashboard},
	{"open dashboard", ActionShowDashboard},
	{"dashboard", ActionShowDashboard},
	{"open settings", ActionOpenSettings},
	{"settings", ActionOpenSettings},
	{"show settings", ActionOpenSettings},
	{"start workout", ActionStartWorkout},
	{"start a workout", ActionStartWorkout},
	{"begin workout", ActionStartWorkout},
	{"show progress", ActionShowProgress},
	{"show my progress", ActionShowProgress},
}

type regexRule struct {
	pattern *regexp.Regexp
	build   func(m []string) Action
}

var regexRules = []regexRule{
	{
		// "log water", "log 2 glasses of water", "log a glass of water"
		pattern: regexp.MustCompile(`^log (?:(\d+|a|an) )?(?:glass(?:es)? of )?water$`),
		build: func(m []string) Action {
			count := 1
			switch m[1] {
			case "", "a", "an":
			default:
				count = atoiSafe(m[1])
			}
			return Action{Name: ActionLogWater, Args: models.Args{
				"glasses": models.Int(int64(count)),
			}}
		},
	},
}

// Parser is stateless and safe for concurrent use.
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

// Parse returns the matched action, or nil when the utterance is anything
// other than an exact known command. It performs no I/O and never errors.
func (p *Parser) Parse(utterance string) *Action {
	text := normalize(utterance)
	if text == "" {
		return nil
	}

	for _, rule := range literalRules {
		if text == rule.phrase {
			return &Action{Name: rule.action, Args: models.Args{}}
		}
	}
	for _, rule := range regexRules {
		if m := rule.pattern.FindStringSubmatch(text); m != nil {
			action := rule.build(m)
			return &action
		}
	}
	return nil
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".!?")
	s = strings.Join(strings.Fields(s), " ")
	return s
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 1
		}
		n = n*10 + int(r-'0')
		if n > 1000 {
			return 1000
		}
	}
	if n == 0 {
		return 1
	}
	return n
}
