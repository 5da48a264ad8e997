package backend

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is the format of the session_date column
	DateLayout = "2006-01-02"
	// TimeLayout is the format of the start_time column
	TimeLayout = "15:04"

	StatusPlanned = "planned"
)

// FlexibleID handles both string and number IDs from the REST API
// Integer primary keys come back as numbers, uuid keys as strings.
// This type converts both formats to string
type FlexibleID string

// UnmarshalJSON implements json.Unmarshaler for FlexibleID
func (f *FlexibleID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}

	// Try to unmarshal as string first
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = FlexibleID(s)
		return nil
	}

	// Try as number
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = FlexibleID(strconv.FormatInt(n, 10))
		return nil
	}

	return fmt.Errorf("FlexibleID: cannot unmarshal %s", string(b))
}

// MarshalJSON implements json.Marshaler for FlexibleID
func (f FlexibleID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(f))
}

// String returns string representation
func (f FlexibleID) String() string {
	return string(f)
}

// BackendTime handles the timestamp formats returned by PostgREST
// timestamptz columns: 2024-05-22T17:06:54.875123+00:00
// timestamp columns have no offset: 2024-05-22T17:06:54.875123
type BackendTime struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler for BackendTime
func (t *BackendTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}

	formats := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999-07:00",
		"2006-01-02T15:04:05.999999",
		"2006-01-02 15:04:05.999999-07",
	}

	var parseErr error
	for _, format := range formats {
		parsed, err := time.Parse(format, s)
		if err == nil {
			t.Time = parsed
			return nil
		}
		parseErr = err
	}

	return parseErr
}

// MarshalJSON implements json.Marshaler for BackendTime
func (t BackendTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// Session represents a treatment session row
type Session struct {
	ID              FlexibleID   `json:"id"`
	UserID          FlexibleID   `json:"user_id"` // owning practitioner, enforced by row-level security
	PatientID       FlexibleID   `json:"patient_id"`
	SessionDate     string       `json:"session_date"`         // YYYY-MM-DD
	StartTime       string       `json:"start_time,omitempty"` // HH:MM, may carry seconds
	DurationMinutes int          `json:"duration_minutes,omitempty"`
	SessionType     string       `json:"session_type,omitempty"`
	Notes           string       `json:"notes,omitempty"`
	Status          string       `json:"status,omitempty"`
	DuplicatedFrom  *FlexibleID  `json:"duplicated_from,omitempty"`
	CreatedAt       *BackendTime `json:"created_at,omitempty"`
}

// Start returns the session start as a time in loc.
// A missing start time yields midnight.
func (s Session) Start(loc *time.Location) (time.Time, error) {
	date, err := time.ParseInLocation(DateLayout, s.SessionDate, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid session_date %q: %w", s.SessionDate, err)
	}

	if s.StartTime == "" {
		return date, nil
	}

	clock := s.StartTime
	if len(clock) > len(TimeLayout) {
		clock = clock[:len(TimeLayout)] // drop seconds
	}
	t, err := time.Parse(TimeLayout, clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start_time %q: %w", s.StartTime, err)
	}

	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}

// CreateSessionRequest represents request to create a session
type CreateSessionRequest struct {
	PatientID       FlexibleID  `json:"patient_id"`
	SessionDate     string      `json:"session_date"`
	StartTime       string      `json:"start_time,omitempty"`
	DurationMinutes int         `json:"duration_minutes,omitempty"`
	SessionType     string      `json:"session_type,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	Status          string      `json:"status,omitempty"`
	DuplicatedFrom  *FlexibleID `json:"duplicated_from,omitempty"`
}

// NewDuplicateRequest copies a template session onto another date.
// The copy is always planned, whatever the template status.
func NewDuplicateRequest(template Session, date time.Time) CreateSessionRequest {
	from := template.ID
	return CreateSessionRequest{
		PatientID:       template.PatientID,
		SessionDate:     date.Format(DateLayout),
		StartTime:       template.StartTime,
		DurationMinutes: template.DurationMinutes,
		SessionType:     template.SessionType,
		Notes:           template.Notes,
		Status:          StatusPlanned,
		DuplicatedFrom:  &from,
	}
}

// APIError is a non-2xx answer from the backend
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Temporary reports whether retrying the request may succeed
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// errorBody is the PostgREST / GoTrue error envelope
type errorBody struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	ErrorDescription string `json:"error_description"`
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		apiErr.Code = eb.Code
		switch {
		case eb.Message != "":
			apiErr.Message = eb.Message
		case eb.Msg != "":
			apiErr.Message = eb.Msg
		default:
			apiErr.Message = eb.ErrorDescription
		}
	}

	return apiErr
}

// tokenResponse is returned by /auth/v1/token
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	User         struct {
		ID    FlexibleID `json:"id"`
		Email string     `json:"email"`
	} `json:"user"`
}
