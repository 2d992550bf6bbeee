package entities

import (
	"sort"
	"time"
)

// DateLayout is the ISO calendar date format used for task dates.
const DateLayout = "2006-01-02"

// CalendarDate is a calendar day in YYYY-MM-DD form.
type CalendarDate string

// ParseDate validates s as a real calendar date.
func ParseDate(s string) (CalendarDate, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", NewValidationError("invalid date %q, expected YYYY-MM-DD", s)
	}
	return CalendarDate(t.Format(DateLayout)), nil
}

// Today returns the current date in loc.
func Today(loc *time.Location) CalendarDate {
	return CalendarDate(time.Now().In(loc).Format(DateLayout))
}

func (d CalendarDate) String() string {
	return string(d)
}

// DateSet is a sorted, duplicate-free set of calendar dates.
type DateSet []CalendarDate

// NewDateSet parses and normalizes raw date strings.
func NewDateSet(raw []string) (DateSet, error) {
	seen := make(map[CalendarDate]struct{}, len(raw))
	set := make(DateSet, 0, len(raw))
	for _, r := range raw {
		d, err := ParseDate(r)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		set = append(set, d)
	}
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	return set, nil
}

// Contains reports whether d is in the set.
func (s DateSet) Contains(d CalendarDate) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= d })
	return i < len(s) && s[i] == d
}

// Without returns a copy of the set with d removed.
func (s DateSet) Without(d CalendarDate) DateSet {
	out := make(DateSet, 0, len(s))
	for _, v := range s {
		if v != d {
			out = append(out, v)
		}
	}
	return out
}

// Strings returns the dates as plain strings.
func (s DateSet) Strings() []string {
	out := make([]string, len(s))
	for i, d := range s {
		out[i] = string(d)
	}
	return out
}
