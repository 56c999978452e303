// Package schedule validates cron expressions for scheduled agent runs,
// describes schedule create and update requests, and the trigger an external
// scheduler sends when one fires.
package schedule

import (
	"fmt"
	"strings"

	"github.com/zanbei/agentx/errors"
)

// ValidateCron checks a five field cron expression. Either day-of-month or
// day-of-week must be "?".
func ValidateCron(expr string) ([]string, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, errors.New("invalid cron expression format: want 5 fields, got %d", len(fields))
	}
	if fields[2] != "?" && fields[4] != "?" {
		return nil, errors.New("either day-of-month or day-of-week must be '?'")
	}
	return fields, nil
}

// ToScheduleExpression converts expr to the six field scheduler form
// "cron(min hour dom month dow *)".
func ToScheduleExpression(expr string) (string, error) {
	f, err := ValidateCron(expr)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("cron(%s %s %s %s %s *)", f[0], f[1], f[2], f[3], f[4]), nil
}

// Trigger is the request a scheduler sends when a schedule fires. It runs
// the agent in background mode.
type Trigger struct {
	AgentID     string `json:"agent_id"`
	ScheduleID  string `json:"schedule_id,omitempty"`
	UserMessage string `json:"user_message"`
}

func (t Trigger) Validate() error {
	if t.AgentID == "" || t.UserMessage == "" {
		return errors.New("agent_id and user_message are required")
	}
	return nil
}

// StatusEnabled is the status of every newly created schedule.
const StatusEnabled = "ENABLED"

// Request is the body of a schedule create or update.
type Request struct {
	AgentID        string  `json:"agentId"`
	CronExpression string  `json:"cronExpression"`
	UserMessage    *string `json:"user_message"`
}

// Validate checks the required fields and the cron expression.
func (r Request) Validate() error {
	if r.AgentID == "" || r.CronExpression == "" {
		return errors.New("agentId and cronExpression are required")
	}
	_, err := ValidateCron(r.CronExpression)
	return err
}

// Message is the user message sent on each run. Without one, a generic
// instruction naming the agent is used.
func (r Request) Message() string {
	if r.UserMessage != nil {
		return *r.UserMessage
	}
	return fmt.Sprintf("[Scheduled Task] Execute scheduled task for agent %s", r.AgentID)
}
