package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Date
		wantErr bool
	}{
		{"valid", "2026-03-09", NewDate(2026, time.March, 9), false},
		{"leap day", "2024-02-29", NewDate(2024, time.February, 29), false},
		{"bad format", "09/03/2026", Date{}, true},
		{"empty", "", Date{}, true},
		{"not a date", "hello", Date{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDateStringRoundTrip(t *testing.T) {
	d := NewDate(2026, time.August, 3)
	parsed, err := ParseDate(d.String())
	if err != nil {
		t.Fatalf("ParseDate(%q) failed: %v", d.String(), err)
	}
	if parsed != d {
		t.Errorf("round trip changed date: %v -> %v", d, parsed)
	}
}

func TestDateAddDays(t *testing.T) {
	tests := []struct {
		name string
		d    Date
		n    int
		want Date
	}{
		{"same month", NewDate(2026, time.August, 3), 4, NewDate(2026, time.August, 7)},
		{"month boundary", NewDate(2026, time.August, 30), 3, NewDate(2026, time.September, 2)},
		{"year boundary", NewDate(2025, time.December, 30), 5, NewDate(2026, time.January, 4)},
		{"backwards", NewDate(2026, time.March, 1), -1, NewDate(2026, time.February, 28)},
		{"zero", NewDate(2026, time.August, 3), 0, NewDate(2026, time.August, 3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.d.AddDays(tt.n); got != tt.want {
				t.Errorf("%v.AddDays(%d) = %v, want %v", tt.d, tt.n, got, tt.want)
			}
		})
	}
}

func TestDateDaysSince(t *testing.T) {
	a := NewDate(2026, time.August, 10)
	b := NewDate(2026, time.August, 3)
	if got := a.DaysSince(b); got != 7 {
		t.Errorf("DaysSince = %d, want 7", got)
	}
	if got := b.DaysSince(a); got != -7 {
		t.Errorf("reverse DaysSince = %d, want -7", got)
	}
	if got := a.DaysSince(a); got != 0 {
		t.Errorf("self DaysSince = %d, want 0", got)
	}
}

func TestDateBeforeAfter(t *testing.T) {
	earlier := NewDate(2026, time.July, 31)
	later := NewDate(2026, time.August, 1)
	if !earlier.Before(later) {
		t.Errorf("%v should be before %v", earlier, later)
	}
	if !later.After(earlier) {
		t.Errorf("%v should be after %v", later, earlier)
	}
	if earlier.Before(earlier) || earlier.After(earlier) {
		t.Errorf("date should not be before or after itself")
	}
}

func TestDateJSON(t *testing.T) {
	d := NewDate(2026, time.August, 3)
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `"2026-08-03"` {
		t.Errorf("Marshal = %s, want %q", data, "2026-08-03")
	}

	var back Date
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back != d {
		t.Errorf("round trip changed date: %v -> %v", d, back)
	}

	if err := json.Unmarshal([]byte(`"not-a-date"`), &back); err == nil {
		t.Errorf("Unmarshal should reject invalid date string")
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    MinuteOfDay
		wantErr bool
	}{
		{"morning", "09:00", 9 * 60, false},
		{"afternoon", "14:37", 14*60 + 37, false},
		{"midnight", "00:00", 0, false},
		{"end of day", "23:59", 23*60 + 59, false},
		{"bad hour", "25:00", 0, true},
		{"bad format", "9am", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClock(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClock(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseClock(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestMinuteOfDayClock(t *testing.T) {
	m := MinuteOfDay(14*60 + 5)
	if got := m.Clock(); got != "14:05" {
		t.Errorf("Clock() = %q, want %q", got, "14:05")
	}
	if m.Hour() != 14 || m.Minute() != 5 {
		t.Errorf("Hour/Minute = %d/%d, want 14/5", m.Hour(), m.Minute())
	}
}

func TestMinuteOfDayAt(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	d := NewDate(2026, time.August, 3)
	at := MinuteOfDay(9*60 + 30).At(d, loc)
	if at.Hour() != 9 || at.Minute() != 30 {
		t.Errorf("At() = %v, want 09:30", at)
	}
	if at.Location() != loc {
		t.Errorf("At() location = %v, want %v", at.Location(), loc)
	}
	if got := DateOf(at); got != d {
		t.Errorf("At() date = %v, want %v", got, d)
	}
}

func TestMinuteOfDayJSON(t *testing.T) {
	m := MinuteOfDay(10*60 + 15)
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `"10:15"` {
		t.Errorf("Marshal = %s, want %q", data, "10:15")
	}

	var back MinuteOfDay
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back != m {
		t.Errorf("round trip changed time: %d -> %d", m, back)
	}
}
