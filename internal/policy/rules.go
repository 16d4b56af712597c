package policy

import (
	"fmt"
	"time"

	"VaultKeeper/internal/model"
)

// Calendar modes.
const (
	ModeAlways       = "always"
	ModeNever        = "never"
	ModeOddDay       = "odd_day"
	ModeEvenDay      = "even_day"
	ModeCycleModulus = "cycle_modulus"
)

// Rules is the deployment policy as written in the config file.
type Rules struct {
	Default   string              `yaml:"default"`
	Overrides map[int]string      `yaml:"overrides"`
	Calendar  []CalendarRule      `yaml:"calendar"`
	Redirects []Redirect          `yaml:"redirects"`
	FollowUps map[string][]string `yaml:"follow_ups"`
}

// CalendarRule adds Kind for every account on the days it matches.
type CalendarRule struct {
	Kind      string `yaml:"kind"`
	Mode      string `yaml:"mode"`
	Modulus   int    `yaml:"modulus"`
	Remainder int    `yaml:"remainder"`
}

// Redirect swaps From for To on accounts whose Query value is below Threshold.
type Redirect struct {
	From      string  `yaml:"from"`
	To        string  `yaml:"to"`
	Query     string  `yaml:"query"`
	Threshold float64 `yaml:"threshold"`
}

// DefaultRules claims on every account except account 5, which drains. Sells
// run on odd days of the month. An account compounds instead of claiming while
// its net deposit value is under 10, and airdrops to its downline after a
// compound.
func DefaultRules() Rules {
	return Rules{
		Default:   string(model.KindClaim),
		Overrides: map[int]string{5: string(model.KindDrain)},
		Calendar:  []CalendarRule{{Kind: string(model.KindSell), Mode: ModeOddDay}},
		Redirects: []Redirect{{
			From:      string(model.KindClaim),
			To:        string(model.KindCompound),
			Query:     "ndv",
			Threshold: 10,
		}},
		FollowUps: map[string][]string{
			string(model.KindCompound): {string(model.KindAirdrop)},
		},
	}
}

// Matches reports whether the rule fires for a cycle started on date that had
// cycleNumber cycles completed before it. It depends on nothing else.
func (r CalendarRule) Matches(date time.Time, cycleNumber int) bool {
	switch r.Mode {
	case ModeAlways:
		return true
	case ModeOddDay:
		return date.Day()%2 == 1
	case ModeEvenDay:
		return date.Day()%2 == 0
	case ModeCycleModulus:
		if r.Modulus <= 0 {
			return false
		}
		return cycleNumber%r.Modulus == r.Remainder
	default:
		return false
	}
}

func (r CalendarRule) validate() error {
	switch r.Mode {
	case ModeAlways, ModeNever, ModeOddDay, ModeEvenDay:
		return nil
	case ModeCycleModulus:
		if r.Modulus <= 0 {
			return fmt.Errorf("modulus must be positive")
		}
		if r.Remainder < 0 || r.Remainder >= r.Modulus {
			return fmt.Errorf("remainder must be in [0,%d)", r.Modulus)
		}
		return nil
	default:
		return fmt.Errorf("unknown mode %q", r.Mode)
	}
}
