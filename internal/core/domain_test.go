package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestDateOfUsesLocalCalendarDay(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	// 23:30 UTC on the 9th is already the 10th ten hours east.
	now := time.Date(2025, 3, 9, 23, 30, 0, 0, time.UTC).In(loc)
	if got := DateOf(now); !got.Equal(NewDate(2025, 3, 10)) {
		t.Fatalf("DateOf = %s, want 2025-03-10", got)
	}
}

func TestDateISOWeekday(t *testing.T) {
	cases := map[string]int{
		"2025-06-02": 1, // Monday
		"2025-06-07": 6,
		"2025-06-08": 7, // Sunday
	}
	for in, want := range cases {
		d, err := ParseDate(in)
		if err != nil {
			t.Fatalf("parse %s: %v", in, err)
		}
		if got := d.ISOWeekday(); got != want {
			t.Errorf("%s ISOWeekday = %d, want %d", in, got, want)
		}
	}
}

func TestDateJSON(t *testing.T) {
	type payload struct {
		Start Date `json:"start"`
		End   Date `json:"end"`
	}
	b, err := json.Marshal(payload{Start: NewDate(2025, 3, 5)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"start":"2025-03-05","end":null}` {
		t.Fatalf("unexpected json: %s", b)
	}

	var p payload
	if err := json.Unmarshal([]byte(`{"start":"2025-04-05","end":""}`), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !p.Start.Equal(NewDate(2025, 4, 5)) || !p.End.IsEmpty() {
		t.Fatalf("unexpected decode: %+v", p)
	}
	if err := json.Unmarshal([]byte(`{"start":"05/04/2025"}`), &p); err == nil {
		t.Fatalf("expected error for bad layout")
	}
}

func TestDaysInAndNextMonth(t *testing.T) {
	if DaysIn(2024, time.February) != 29 || DaysIn(2025, time.February) != 28 {
		t.Fatalf("february length wrong")
	}
	if y, m := NextMonth(2025, time.December); y != 2026 || m != time.January {
		t.Fatalf("NextMonth(2025-12) = %d-%d", y, m)
	}
	if y, m := NextMonth(2025, time.March); y != 2025 || m != time.April {
		t.Fatalf("NextMonth(2025-03) = %d-%d", y, m)
	}
}

func intPtr(v int) *int { return &v }

func TestScheduleFromFields(t *testing.T) {
	tests := []struct {
		name      string
		frequency string
		weekday   *int
		day       *int
		want      Schedule
		wantErr   bool
	}{
		{"weekly ok", "weekly", intPtr(7), nil, WeeklySchedule{Weekday: 7}, false},
		{"monthly ok", "Monthly", nil, intPtr(28), MonthlySchedule{Day: 28}, false},
		{"monthly without day", "monthly", nil, nil, nil, true},
		{"monthly with weekday", "monthly", intPtr(1), intPtr(5), nil, true},
		{"weekly without weekday", "weekly", nil, nil, nil, true},
		{"weekday out of range", "weekly", intPtr(0), nil, nil, true},
		{"day 29 rejected", "monthly", nil, intPtr(29), nil, true},
		{"unknown frequency", "yearly", nil, intPtr(1), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ScheduleFromFields(tt.frequency, tt.weekday, tt.day)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRule) {
					t.Fatalf("expected ErrInvalidRule, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
			freq, wd, d := ScheduleFields(got)
			if freq != string(got.Frequency()) {
				t.Fatalf("round trip frequency %q", freq)
			}
			back, err := ScheduleFromFields(freq, wd, d)
			if err != nil || back != got {
				t.Fatalf("round trip = %#v, %v", back, err)
			}
		})
	}
}

func validRule() RecurrenceRule {
	return RecurrenceRule{
		ID:          "r1",
		Owner:       "user-1",
		Amount:      Money{Cents: 999},
		Description: "Streaming",
		Schedule:    MonthlySchedule{Day: 5},
		StartDate:   NewDate(2025, 1, 1),
		Active:      true,
	}
}

func TestRecurrenceRuleValidate(t *testing.T) {
	if err := validRule().Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	mutate := []func(*RecurrenceRule){
		func(r *RecurrenceRule) { r.Schedule = nil },
		func(r *RecurrenceRule) { r.Schedule = MonthlySchedule{Day: 31} },
		func(r *RecurrenceRule) { r.StartDate = Date{} },
		func(r *RecurrenceRule) { r.EndDate = NewDate(2024, 12, 31) },
		func(r *RecurrenceRule) { r.Owner = " " },
		func(r *RecurrenceRule) { r.Description = "" },
		func(r *RecurrenceRule) { r.Amount = Money{} },
	}
	for i, m := range mutate {
		r := validRule()
		m(&r)
		if err := r.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestRecurrenceRuleWindow(t *testing.T) {
	r := validRule()
	r.EndDate = NewDate(2025, 6, 30)

	if r.InWindow(NewDate(2024, 12, 31)) {
		t.Error("date before start must be outside the window")
	}
	if !r.InWindow(NewDate(2025, 1, 1)) || !r.InWindow(NewDate(2025, 6, 30)) {
		t.Error("window bounds are inclusive")
	}
	if r.InWindow(NewDate(2025, 7, 1)) || !r.PastEnd(NewDate(2025, 7, 1)) {
		t.Error("date after end must be outside the window")
	}
	r.EndDate = Date{}
	if r.PastEnd(NewDate(2099, 1, 1)) {
		t.Error("open-ended rule never ends")
	}
}

func TestInstanceIDIsStable(t *testing.T) {
	a := InstanceID("rule-1", NewDate(2025, 4, 5))
	b := InstanceID("rule-1", NewDate(2025, 4, 5))
	c := InstanceID("rule-1", NewDate(2025, 5, 5))
	if a != b {
		t.Fatalf("same key produced %s and %s", a, b)
	}
	if a == c {
		t.Fatalf("different dates share id %s", a)
	}
}

func TestInstanceStateTerminal(t *testing.T) {
	if Pending.Terminal() || !Generated.Terminal() || !Skipped.Terminal() {
		t.Fatal("unexpected terminal states")
	}
	if InstanceState("done").Valid() {
		t.Fatal("unknown state reported valid")
	}
}

func TestExpenseDraftValidate(t *testing.T) {
	good := DraftFor(validRule(), "inst-1", NewDate(2025, 3, 5))
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if good.SourceInstanceID != "inst-1" || good.Amount.Cents != 999 {
		t.Fatalf("payload not copied: %+v", good)
	}

	bads := []ExpenseDraft{
		{Date: Date{}, Owner: "u", Description: "a", Amount: Money{Cents: 1}},
		{Date: NewDate(2025, 1, 1), Owner: "", Description: "a", Amount: Money{Cents: 1}},
		{Date: NewDate(2025, 1, 1), Owner: "u", Description: "", Amount: Money{Cents: 1}},
		{Date: NewDate(2025, 1, 1), Owner: "u", Description: "a", Amount: Money{Cents: 0}},
	}
	for i, e := range bads {
		if err := e.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestJobSummaryAdd(t *testing.T) {
	s := JobSummary{Created: 1, Errored: 1}
	s.Add(JobSummary{Created: 2, Resolved: 3, Skipped: 4})
	if s.Created != 3 || s.Resolved != 3 || s.Skipped != 4 || s.Errored != 1 {
		t.Fatalf("unexpected sum %+v", s)
	}
}
