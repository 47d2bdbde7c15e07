package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// MaxAnchorDay caps the monthly anchor so that it exists in every month,
// February included.
const MaxAnchorDay = 28

type (
	Frequency string

	// Schedule is the closed set of recurrence shapes. Only WeeklySchedule and
	// MonthlySchedule implement it.
	Schedule interface {
		Frequency() Frequency
		Validate() error
		schedule()
	}

	// WeeklySchedule recurs on one ISO weekday (1 = Monday, 7 = Sunday).
	WeeklySchedule struct {
		Weekday int
	}

	// MonthlySchedule recurs on one day of the month (1-28).
	MonthlySchedule struct {
		Day int
	}

	RecurrenceRule struct {
		ID               string
		Owner            string
		Amount           Money
		Description      string
		CategoryRef      string
		PaymentMethodRef string
		Schedule         Schedule
		StartDate        Date
		EndDate          Date // zero when open-ended
		Active           bool
		CreatedAt        time.Time
	}
)

func (WeeklySchedule) Frequency() Frequency  { return Weekly }
func (MonthlySchedule) Frequency() Frequency { return Monthly }
func (WeeklySchedule) schedule()             {}
func (MonthlySchedule) schedule()            {}

func (s WeeklySchedule) Validate() error {
	if s.Weekday < 1 || s.Weekday > 7 {
		return fmt.Errorf("%w: anchor weekday %d outside 1-7", ErrInvalidRule, s.Weekday)
	}
	return nil
}

func (s MonthlySchedule) Validate() error {
	if s.Day < 1 || s.Day > MaxAnchorDay {
		return fmt.Errorf("%w: anchor day of month %d outside 1-%d", ErrInvalidRule, s.Day, MaxAnchorDay)
	}
	return nil
}

// NewWeeklySchedule validates weekday and returns a weekly schedule.
func NewWeeklySchedule(weekday int) (WeeklySchedule, error) {
	s := WeeklySchedule{Weekday: weekday}
	return s, s.Validate()
}

// NewMonthlySchedule validates day and returns a monthly schedule.
func NewMonthlySchedule(day int) (MonthlySchedule, error) {
	s := MonthlySchedule{Day: day}
	return s, s.Validate()
}

// ScheduleFromFields builds a Schedule from the flat representation used by
// storage and request payloads. The anchor matching the frequency is
// required and the other one must be absent.
func ScheduleFromFields(frequency string, anchorWeekday, anchorDay *int) (Schedule, error) {
	switch Frequency(strings.ToLower(strings.TrimSpace(frequency))) {
	case Weekly:
		if anchorWeekday == nil {
			return nil, fmt.Errorf("%w: weekly rule without anchor weekday", ErrInvalidRule)
		}
		if anchorDay != nil {
			return nil, fmt.Errorf("%w: weekly rule with anchor day of month", ErrInvalidRule)
		}
		return NewWeeklySchedule(*anchorWeekday)
	case Monthly:
		if anchorDay == nil {
			return nil, fmt.Errorf("%w: monthly rule without anchor day of month", ErrInvalidRule)
		}
		if anchorWeekday != nil {
			return nil, fmt.Errorf("%w: monthly rule with anchor weekday", ErrInvalidRule)
		}
		return NewMonthlySchedule(*anchorDay)
	default:
		return nil, fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, frequency)
	}
}

// ScheduleFields is the inverse of ScheduleFromFields.
func ScheduleFields(s Schedule) (frequency string, anchorWeekday, anchorDay *int) {
	switch v := s.(type) {
	case WeeklySchedule:
		wd := v.Weekday
		return string(Weekly), &wd, nil
	case MonthlySchedule:
		d := v.Day
		return string(Monthly), nil, &d
	}
	return "", nil, nil
}

// Frequency returns the rule's frequency, or "" when it has no schedule.
func (r RecurrenceRule) Frequency() Frequency {
	if r.Schedule == nil {
		return ""
	}
	return r.Schedule.Frequency()
}

// HasEndDate reports whether the rule is bounded.
func (r RecurrenceRule) HasEndDate() bool {
	return !r.EndDate.IsEmpty()
}

// InWindow reports whether d lies within [StartDate, EndDate].
func (r RecurrenceRule) InWindow(d Date) bool {
	if d.Before(r.StartDate) {
		return false
	}
	if r.HasEndDate() && d.After(r.EndDate) {
		return false
	}
	return true
}

// PastEnd reports whether d is strictly after the rule's end date.
func (r RecurrenceRule) PastEnd(d Date) bool {
	return r.HasEndDate() && d.After(r.EndDate)
}

// ValidateSchedule checks only what date expansion depends on.
func (r RecurrenceRule) ValidateSchedule() error {
	if r.Schedule == nil {
		return fmt.Errorf("%w: missing schedule", ErrInvalidRule)
	}
	if err := r.Schedule.Validate(); err != nil {
		return err
	}
	if r.StartDate.IsEmpty() {
		return fmt.Errorf("%w: missing start date", ErrInvalidRule)
	}
	return nil
}

func (r RecurrenceRule) Validate() error {
	if err := r.ValidateSchedule(); err != nil {
		return err
	}
	if err := r.StartDate.Validate(); err != nil {
		return errors.New("invalid start date: " + err.Error())
	}
	if r.HasEndDate() {
		if err := r.EndDate.Validate(); err != nil {
			return errors.New("invalid end date: " + err.Error())
		}
		if r.EndDate.Before(r.StartDate) {
			return errors.New("end date must not be before start date")
		}
	}
	if strings.TrimSpace(r.Owner) == "" {
		return ErrEmptyOwner
	}
	if len(strings.TrimSpace(r.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(r.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return r.Amount.Validate()
}
