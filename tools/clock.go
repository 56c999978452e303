package tools

import (
	"context"
	"time"

	"github.com/zanbei/agentx/errors"
)

type currentTimeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema_description:"IANA timezone name, defaults to DEFAULT_TIMEZONE or UTC"`
}

// CurrentTimeTool reports the current time in a timezone.
type CurrentTimeTool struct {
	name            string
	defaultTimezone string
	now             func() time.Time
}

func (t *CurrentTimeTool) Name() string {
	if t.name == "" {
		return "current_time"
	}
	return t.name
}

func (t *CurrentTimeTool) Description() string {
	return "Get the current time and date in ISO 8601 format. Args: timezone (string, optional)."
}

func (t *CurrentTimeTool) InputSchema() map[string]any { return SchemaFor[currentTimeArgs]() }

func (t *CurrentTimeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	a, err := decodeArgs[currentTimeArgs](args)
	if err != nil {
		return "", err
	}
	tz := a.Timezone
	if tz == "" {
		tz = t.defaultTimezone
	}
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", errors.Wrapf(err, "unknown timezone %q", tz)
	}
	now := time.Now
	if t.now != nil {
		now = t.now
	}
	return now().In(loc).Format(time.RFC3339), nil
}
