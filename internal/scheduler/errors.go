package scheduler

import "errors"

var (
	// ErrScheduleNotFound is returned when a schedule is not found
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrInvalidExpression is returned when a cron expression does not parse
	ErrInvalidExpression = errors.New("invalid cron expression")
)
