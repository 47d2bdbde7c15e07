// Package schedule turns recurrence rules into calendar dates.
//
// Each frequency has its own Expander strategy that knows two things: how the
// calendar is cut into periods for that frequency (months, ISO weeks) and
// which dates inside a range match the rule's anchor. Everything here is pure;
// callers pass the reference date explicitly.
package schedule

import (
	"fmt"
	"time"

	"ricorrenti/internal/core"
)

// Expander is the strategy interface for one frequency.
type Expander interface {
	// Between returns the anchor dates in [from, to], ascending, before the
	// rule's start/end window is applied.
	Between(rule core.RecurrenceRule, from, to core.Date) []core.Date

	// PeriodOf returns the first and last day of the period containing d.
	PeriodOf(d core.Date) (from, to core.Date)
}

// WeeklyExpander periods are ISO weeks, Monday to Sunday.
type WeeklyExpander struct{}

func (WeeklyExpander) Between(rule core.RecurrenceRule, from, to core.Date) []core.Date {
	s, ok := rule.Schedule.(core.WeeklySchedule)
	if !ok {
		return nil
	}
	return stepWeekday(from, to, s.Weekday)
}

func (WeeklyExpander) PeriodOf(d core.Date) (core.Date, core.Date) {
	monday := d.AddDays(1 - d.ISOWeekday())
	return monday, monday.AddDays(6)
}

// MonthlyExpander periods are calendar months.
type MonthlyExpander struct{}

func (MonthlyExpander) Between(rule core.RecurrenceRule, from, to core.Date) []core.Date {
	s, ok := rule.Schedule.(core.MonthlySchedule)
	if !ok {
		return nil
	}
	var out []core.Date
	year, month := from.Year(), time.Month(from.Month())
	for {
		first := core.NewDate(year, int(month), 1)
		if first.After(to) {
			return out
		}
		candidate := core.NewDate(year, int(month), s.Day)
		if !candidate.Before(from) && !candidate.After(to) {
			out = append(out, candidate)
		}
		year, month = core.NextMonth(year, month)
	}
}

func (MonthlyExpander) PeriodOf(d core.Date) (core.Date, core.Date) {
	return monthBounds(d.Year(), time.Month(d.Month()))
}

// expanders maps frequencies to their strategies.
var expanders = map[core.Frequency]Expander{
	core.Weekly:  WeeklyExpander{},
	core.Monthly: MonthlyExpander{},
}

// GetExpander returns the strategy for a frequency.
func GetExpander(frequency core.Frequency) (Expander, error) {
	e, ok := expanders[frequency]
	if !ok {
		return nil, fmt.Errorf("%w: unknown frequency %q", core.ErrInvalidRule, frequency)
	}
	return e, nil
}

// ExpandMonthly returns the monthly rule's occurrence in the given month:
// zero or one date, dropped when outside the rule's start/end window.
func ExpandMonthly(rule core.RecurrenceRule, year int, month time.Month) ([]core.Date, error) {
	if err := requireFrequency(rule, core.Monthly); err != nil {
		return nil, err
	}
	return expandMonth(MonthlyExpander{}, rule, year, month)
}

// ExpandWeekly returns every date of the given month falling on the weekly
// rule's anchor weekday, ascending, each filtered by the start/end window.
func ExpandWeekly(rule core.RecurrenceRule, year int, month time.Month) ([]core.Date, error) {
	if err := requireFrequency(rule, core.Weekly); err != nil {
		return nil, err
	}
	return expandMonth(WeeklyExpander{}, rule, year, month)
}

// Expand dispatches to ExpandMonthly or ExpandWeekly by the rule's frequency.
func Expand(rule core.RecurrenceRule, year int, month time.Month) ([]core.Date, error) {
	switch rule.Frequency() {
	case core.Monthly:
		return ExpandMonthly(rule, year, month)
	case core.Weekly:
		return ExpandWeekly(rule, year, month)
	}
	return nil, rule.ValidateSchedule()
}

// CurrentPeriod returns the occurrences of the period containing today: the
// month for monthly rules, the ISO week for weekly ones. Weekly rules use the
// same weekday stepping as ExpandWeekly, bounded to the seven days of the week.
func CurrentPeriod(rule core.RecurrenceRule, today core.Date) ([]core.Date, error) {
	exp, err := expanderFor(rule)
	if err != nil {
		return nil, err
	}
	from, to := exp.PeriodOf(today)
	return inWindow(rule, exp.Between(rule, from, to)), nil
}

// maxLookahead bounds the search in NextOccurrenceAfterPeriod. After jumping
// to the start date's period, a valid date exists within two periods unless
// the end date cuts the rule off.
const maxLookahead = 3

// NextOccurrenceAfterPeriod returns the first occurrence falling in a period
// after the one containing today. ok is false when the rule's end date leaves
// no such occurrence.
func NextOccurrenceAfterPeriod(rule core.RecurrenceRule, today core.Date) (date core.Date, ok bool, err error) {
	exp, err := expanderFor(rule)
	if err != nil {
		return core.Date{}, false, err
	}
	_, to := exp.PeriodOf(today)
	cursor := to.AddDays(1)
	if rule.StartDate.After(cursor) {
		cursor, _ = exp.PeriodOf(rule.StartDate)
	}
	for i := 0; i < maxLookahead; i++ {
		from, to := exp.PeriodOf(cursor)
		if rule.PastEnd(from) {
			return core.Date{}, false, nil
		}
		if dates := inWindow(rule, exp.Between(rule, from, to)); len(dates) > 0 {
			return dates[0], true, nil
		}
		cursor = to.AddDays(1)
	}
	return core.Date{}, false, nil
}

func expandMonth(exp Expander, rule core.RecurrenceRule, year int, month time.Month) ([]core.Date, error) {
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("invalid month %d", month)
	}
	from, to := monthBounds(year, month)
	return inWindow(rule, exp.Between(rule, from, to)), nil
}

func expanderFor(rule core.RecurrenceRule) (Expander, error) {
	if err := rule.ValidateSchedule(); err != nil {
		return nil, err
	}
	return GetExpander(rule.Frequency())
}

func requireFrequency(rule core.RecurrenceRule, want core.Frequency) error {
	if err := rule.ValidateSchedule(); err != nil {
		return err
	}
	if got := rule.Frequency(); got != want {
		return fmt.Errorf("%w: %s expansion requested for a %s rule", core.ErrInvalidRule, want, got)
	}
	return nil
}

// stepWeekday finds the first date on or after from whose ISO weekday is
// weekday and steps by seven days until past to.
func stepWeekday(from, to core.Date, weekday int) []core.Date {
	var out []core.Date
	first := from.AddDays((weekday - from.ISOWeekday() + 7) % 7)
	for d := first; !d.After(to); d = d.AddDays(7) {
		out = append(out, d)
	}
	return out
}

func inWindow(rule core.RecurrenceRule, dates []core.Date) []core.Date {
	out := dates[:0]
	for _, d := range dates {
		if rule.InWindow(d) {
			out = append(out, d)
		}
	}
	return out
}

func monthBounds(year int, month time.Month) (core.Date, core.Date) {
	return core.NewDate(year, int(month), 1), core.NewDate(year, int(month), core.DaysIn(year, month))
}
