package support

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gotrs-io/tg-helpdesk/internal/repository"
	"github.com/gotrs-io/tg-helpdesk/internal/services/calendar"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
)

// Setting keys for bot texts. Calendar keys live in the calendar package.
const (
	KeyAckText          = "ack_text"
	KeyAckFileText      = "ack_file_text"
	KeyNonWorkingNotice = "non_working_notice"
	KeyHolidayNotice    = "holiday_notice"
)

// DefaultSettings are served for keys with no stored value.
var DefaultSettings = map[string]string{
	KeyAckText:               "Your request has been received. If needed, attach a screenshot or a log file.",
	KeyAckFileText:           "Your request has been received. File received.",
	KeyNonWorkingNotice:      "Please note: our working hours are 12:00 to 00:00 on weekdays. We will answer as soon as we are back.",
	KeyHolidayNotice:         "Please note: today is a holiday ({holiday}). We will answer on the next working day.",
	calendar.KeyTimezone:     calendar.DefaultTimezone,
	calendar.KeyWorkingHours: calendar.DefaultWorkingHours,
	calendar.KeyWorkingDays:  calendar.DefaultWorkingDays,
	calendar.KeyHolidays:     "",
	calendar.KeyHolidaysOnce: "",
}

// Settings reads bot settings with defaults applied. It satisfies
// calendar.Settings.
type Settings struct {
	store repository.SettingStore
}

var _ calendar.Settings = (*Settings)(nil)

func NewSettings(store repository.SettingStore) *Settings {
	return &Settings{store: store}
}

// Get returns the stored value, or the default when nothing is stored.
func (s *Settings) Get(ctx context.Context, key string) (string, error) {
	v, ok, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	if !ok {
		return DefaultSettings[key], nil
	}
	return v, nil
}

// All merges stored values over the defaults.
func (s *Settings) All(ctx context.Context) (map[string]string, error) {
	stored, err := s.store.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	out := make(map[string]string, len(DefaultSettings)+len(stored))
	for k, v := range DefaultSettings {
		out[k] = v
	}
	for k, v := range stored {
		out[k] = v
	}
	return out, nil
}

// Keys returns the known setting keys in order.
func Keys() []string {
	keys := make([]string, 0, len(DefaultSettings))
	for k := range DefaultSettings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set validates and stores a value. Calendar keys are checked by building
// a calendar with the new value in place.
func (s *Settings) Set(ctx context.Context, key, value string) error {
	if _, known := DefaultSettings[key]; !known {
		return shared.NewValidationError("key", "unknown setting %q", key)
	}
	switch key {
	case calendar.KeyTimezone, calendar.KeyWorkingHours, calendar.KeyWorkingDays, calendar.KeyHolidays, calendar.KeyHolidaysOnce:
		if _, err := calendar.Load(ctx, overlay{base: s, key: key, value: value}); err != nil {
			return shared.NewValidationError(key, "%v", err)
		}
	default:
		if strings.TrimSpace(value) == "" {
			return shared.NewValidationError(key, "must not be empty")
		}
	}
	if err := s.store.SetSetting(ctx, key, value); err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// Calendar builds the working-hours calendar from the current settings.
func (s *Settings) Calendar(ctx context.Context) (*calendar.Calendar, error) {
	return calendar.Load(ctx, s)
}

// Location is the zone of the working-hours calendar as currently set.
func (s *Settings) Location(ctx context.Context) (*time.Location, error) {
	cal, err := s.Calendar(ctx)
	if err != nil {
		return nil, err
	}
	return cal.Location(), nil
}

// location returns the calendar zone, or UTC when settings are unusable.
func (s *Service) location(ctx context.Context) *time.Location {
	loc, err := s.settings.Location(ctx)
	if err != nil {
		return time.UTC
	}
	return loc
}

type overlay struct {
	base  calendar.Settings
	key   string
	value string
}

func (o overlay) Get(ctx context.Context, key string) (string, error) {
	if key == o.key {
		return o.value, nil
	}
	return o.base.Get(ctx, key)
}
