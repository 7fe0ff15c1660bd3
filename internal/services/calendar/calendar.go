// Package calendar decides whether a moment falls inside support working
// hours, wrapping rickar/cal with settings stored in the helpdesk database.
package calendar

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rickar/cal/v2"
	"gopkg.in/yaml.v3"
)

// Setting keys read by Load.
const (
	KeyTimezone     = "timezone"
	KeyWorkingHours = "working_hours"
	KeyWorkingDays  = "working_days"
	KeyHolidays     = "holidays"
	KeyHolidaysOnce = "holidays_once"
)

// Defaults applied when a setting is empty.
const (
	DefaultTimezone     = "Asia/Almaty"
	DefaultWorkingHours = "12-24"
	DefaultWorkingDays  = "mon,tue,wed,thu,fri"
)

// Settings is the key/value source the calendar is configured from.
type Settings interface {
	Get(ctx context.Context, key string) (string, error)
}

// Status classifies one instant.
type Status struct {
	Holiday     bool
	HolidayName string
	WorkingTime bool
}

// Calendar is an immutable working-hours policy.
type Calendar struct {
	loc *time.Location
	bc  *cal.BusinessCalendar
}

var dayMap = map[string]time.Weekday{
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
	"sun": time.Sunday,
}

// Load builds a Calendar from settings, falling back to defaults for
// anything unset.
func Load(ctx context.Context, s Settings) (*Calendar, error) {
	get := func(key, def string) (string, error) {
		v, err := s.Get(ctx, key)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", key, err)
		}
		if strings.TrimSpace(v) == "" {
			return def, nil
		}
		return v, nil
	}
	tz, err := get(KeyTimezone, DefaultTimezone)
	if err != nil {
		return nil, err
	}
	hours, err := get(KeyWorkingHours, DefaultWorkingHours)
	if err != nil {
		return nil, err
	}
	days, err := get(KeyWorkingDays, DefaultWorkingDays)
	if err != nil {
		return nil, err
	}
	holidays, err := get(KeyHolidays, "")
	if err != nil {
		return nil, err
	}
	once, err := get(KeyHolidaysOnce, "")
	if err != nil {
		return nil, err
	}
	return New(tz, hours, days, holidays, once)
}

// New builds a Calendar.
//
//	tz       IANA zone name, e.g. "Asia/Almaty"
//	hours    "start-end" in whole hours, end exclusive, e.g. "12-24"
//	days     comma separated weekday abbreviations
//	holidays recurring days as YAML, { 1: { 1: "New Year" } }
//	once     one-time days as YAML, { 2025: { 3: { 21: "Nauryz" } } }
func New(tz, hours, days, holidays, once string) (*Calendar, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	start, end, err := parseHours(hours)
	if err != nil {
		return nil, err
	}

	bc := cal.NewBusinessCalendar()
	for _, wd := range dayMap {
		bc.SetWorkday(wd, false)
	}
	for _, d := range strings.Split(days, ",") {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		wd, err := parseWeekday(d)
		if err != nil {
			return nil, err
		}
		bc.SetWorkday(wd, true)
	}
	bc.SetWorkHours(time.Duration(start)*time.Hour, time.Duration(end)*time.Hour)

	if err := applyHolidays(bc, holidays); err != nil {
		return nil, err
	}
	if err := applyHolidaysOnce(bc, once); err != nil {
		return nil, err
	}
	return &Calendar{loc: loc, bc: bc}, nil
}

// Location returns the zone the policy is evaluated in.
func (c *Calendar) Location() *time.Location { return c.loc }

// Status evaluates t in the calendar's zone.
func (c *Calendar) Status(t time.Time) Status {
	local := t.In(c.loc)
	var st Status
	if actual, observed, h := c.bc.IsHoliday(local); (actual || observed) && h != nil {
		st.Holiday = true
		st.HolidayName = h.Name
	}
	st.WorkingTime = !st.Holiday && c.bc.IsWorkTime(local)
	return st
}

func parseWeekday(v string) (time.Weekday, error) {
	if wd, ok := dayMap[v]; ok {
		return wd, nil
	}
	for _, wd := range dayMap {
		if strings.ToLower(wd.String()) == v {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", v)
}

func parseHours(v string) (int, int, error) {
	parts := strings.SplitN(strings.TrimSpace(v), "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("working hours %q: want start-end", v)
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || start < 0 || end > 24 || start >= end {
		return 0, 0, fmt.Errorf("working hours %q: invalid range", v)
	}
	return start, end, nil
}

func applyHolidays(bc *cal.BusinessCalendar, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var days map[int]map[int]string
	if err := yaml.Unmarshal([]byte(raw), &days); err != nil {
		return fmt.Errorf("parse holidays: %w", err)
	}
	for month, byDay := range days {
		if month < 1 || month > 12 {
			continue
		}
		for day, name := range byDay {
			if day < 1 || day > 31 {
				continue
			}
			bc.AddHoliday(&cal.Holiday{
				Name:  name,
				Type:  cal.ObservancePublic,
				Month: time.Month(month),
				Day:   day,
				Func:  cal.CalcDayOfMonth,
			})
		}
	}
	return nil
}

func applyHolidaysOnce(bc *cal.BusinessCalendar, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var days map[int]map[int]map[int]string
	if err := yaml.Unmarshal([]byte(raw), &days); err != nil {
		return fmt.Errorf("parse one-time holidays: %w", err)
	}
	for year, byMonth := range days {
		for month, byDay := range byMonth {
			if month < 1 || month > 12 {
				continue
			}
			for day, name := range byDay {
				if day < 1 || day > 31 {
					continue
				}
				bc.AddHoliday(&cal.Holiday{
					Name:      name,
					Type:      cal.ObservancePublic,
					Month:     time.Month(month),
					Day:       day,
					Func:      cal.CalcDayOfMonth,
					StartYear: year,
					EndYear:   year,
				})
			}
		}
	}
	return nil
}
