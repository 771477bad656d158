package models

import "time"

// Wire field names understood by the attendance endpoint.
const (
	FieldStudentID  = "studentId"
	FieldName       = "name"
	FieldEmail      = "email"
	FieldStatus     = "status"
	FieldTimestamp  = "timestamp"
	FieldCustomDate = "customDate"
)

// Attendance status codes.
const (
	StatusPresent = "P"
	StatusLate    = "L"
	StatusAbsent  = "A"
	StatusExcused = "E"
)

// UpdateSuffix marks tasks produced by record updates.
const UpdateSuffix = "-update"

// CustomDateLayout is the day/month/year layout of the derived date field.
const CustomDateLayout = "02/01/2006"

// ResultSuccess is the marker the endpoint returns for accepted records.
const ResultSuccess = "success"

const (
	// DefaultRequestTimeout must exceed the endpoint's worst-case lock wait (~30s) plus latency.
	DefaultRequestTimeout = 60 * time.Second

	// DefaultBackoffMin lower bound of the retry jitter window
	DefaultBackoffMin = 2000 * time.Millisecond

	// DefaultBackoffMax upper bound (exclusive) of the retry jitter window
	DefaultBackoffMax = 22000 * time.Millisecond

	// DefaultConnCheckInterval period of the connectivity check
	DefaultConnCheckInterval = 15 * time.Second

	// SnippetLimit caps response snippets carried in error messages.
	SnippetLimit = 200
)
