// Package loadtest drives staged virtual-user load against a running API and
// checks latency and error thresholds.
package loadtest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Stage ramps the number of virtual users linearly to Target over Duration.
type Stage struct {
	Duration time.Duration `yaml:"duration"`
	Target   int           `yaml:"target"`
}

func (s Stage) String() string {
	return fmt.Sprintf("%s:%d", s.Duration, s.Target)
}

// ParseStage reads "duration:target", e.g. "30s:10".
func ParseStage(s string) (Stage, error) {
	d, t, ok := strings.Cut(s, ":")
	if !ok {
		return Stage{}, fmt.Errorf("stage %q: want duration:target", s)
	}
	dur, err := time.ParseDuration(strings.TrimSpace(d))
	if err != nil {
		return Stage{}, fmt.Errorf("stage %q: %w", s, err)
	}
	if dur <= 0 {
		return Stage{}, fmt.Errorf("stage %q: duration must be positive", s)
	}
	target, err := strconv.Atoi(strings.TrimSpace(t))
	if err != nil {
		return Stage{}, fmt.Errorf("stage %q: target: %w", s, err)
	}
	if target < 0 {
		return Stage{}, fmt.Errorf("stage %q: target must not be negative", s)
	}
	return Stage{Duration: dur, Target: target}, nil
}

// ParseStages parses every element with ParseStage.
func ParseStages(args []string) (Schedule, error) {
	out := make(Schedule, 0, len(args))
	for _, s := range args {
		st, err := ParseStage(s)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Schedule is a sequence of stages starting from zero virtual users.
type Schedule []Stage

// DefaultSchedule ramps to 10 users, holds for a minute and ramps down.
var DefaultSchedule = Schedule{
	{Duration: 30 * time.Second, Target: 10},
	{Duration: time.Minute, Target: 10},
	{Duration: 30 * time.Second, Target: 0},
}

// Profiles are the named schedules of the k6 suite.
var Profiles = map[string]Schedule{
	"default": DefaultSchedule,
	"smoke": {
		{Duration: time.Second, Target: 10},
		{Duration: time.Minute, Target: 10},
	},
	"load": {
		{Duration: 2 * time.Minute, Target: 100},
		{Duration: 5 * time.Minute, Target: 100},
		{Duration: 2 * time.Minute, Target: 200},
		{Duration: 5 * time.Minute, Target: 200},
		{Duration: 2 * time.Minute, Target: 0},
	},
	"stress": {
		{Duration: 2 * time.Minute, Target: 100},
		{Duration: 5 * time.Minute, Target: 100},
		{Duration: 2 * time.Minute, Target: 200},
		{Duration: 5 * time.Minute, Target: 200},
		{Duration: 2 * time.Minute, Target: 300},
		{Duration: 5 * time.Minute, Target: 300},
		{Duration: 2 * time.Minute, Target: 400},
		{Duration: 5 * time.Minute, Target: 400},
		{Duration: 10 * time.Minute, Target: 0},
	},
	"spike": {
		{Duration: 10 * time.Second, Target: 100},
		{Duration: time.Minute, Target: 100},
		{Duration: 10 * time.Second, Target: 1400},
		{Duration: 3 * time.Minute, Target: 1400},
		{Duration: 10 * time.Second, Target: 100},
		{Duration: 3 * time.Minute, Target: 100},
		{Duration: 10 * time.Second, Target: 0},
	},
}

// ProfileNames lists the keys of Profiles in order.
func ProfileNames() []string {
	names := make([]string, 0, len(Profiles))
	for name := range Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Duration is the total length of the schedule.
func (s Schedule) Duration() time.Duration {
	var total time.Duration
	for _, st := range s {
		total += st.Duration
	}
	return total
}

// MaxVUs is the highest target of any stage.
func (s Schedule) MaxVUs() int {
	max := 0
	for _, st := range s {
		if st.Target > max {
			max = st.Target
		}
	}
	return max
}

// VUsAt returns the number of virtual users wanted at elapsed, and false once
// the schedule has finished.
func (s Schedule) VUsAt(elapsed time.Duration) (int, bool) {
	from := 0
	for _, st := range s {
		if elapsed < st.Duration {
			return from + ramp(st.Target-from, elapsed, st.Duration), true
		}
		elapsed -= st.Duration
		from = st.Target
	}
	return 0, false
}

// ramp scales delta by elapsed/d, rounding toward the stage target so users
// start as soon as a ramp up begins and the target is met within the stage.
func ramp(delta int, elapsed, d time.Duration) int {
	num := int64(delta) * int64(elapsed)
	den := int64(d)
	if num >= 0 {
		return int((num + den - 1) / den)
	}
	return -int((-num + den - 1) / den)
}

// Validate rejects an empty schedule or one that never starts a user.
func (s Schedule) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("schedule has no stages")
	}
	if s.MaxVUs() == 0 {
		return fmt.Errorf("schedule never starts a virtual user")
	}
	return nil
}
