package model

import "time"

// ProcessResult is what the supervisor observed of one engine process.
type ProcessResult struct {
	ExitCode        int
	Stdout          []byte
	Stderr          []byte
	StdoutTruncated bool
	StderrTruncated bool
	Started         time.Time
	Stopped         time.Time
}

// Status is the application level status reported by the engine.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// EngineResult is the structured record recovered from engine stdout.
type EngineResult struct {
	Status  Status
	Tool    string
	Message string
	Stats   map[string]any
	Files   []string
}

// Artifact is the single deliverable of a successful request.
type Artifact struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at,omitzero"`
}

// Outcome is the result object surfaced to the client.
type Outcome struct {
	Success     bool           `json:"success"`
	RequestID   string         `json:"requestId,omitempty"`
	Operation   string         `json:"operation,omitempty"`
	Error       string         `json:"error,omitempty"`
	Code        string         `json:"code,omitempty"`
	Details     string         `json:"details,omitempty"`
	Stats       map[string]any `json:"stats,omitempty"`
	DownloadURL string         `json:"downloadUrl,omitempty"`
	Filename    string         `json:"filename,omitempty"`
	Size        int64          `json:"size,omitempty"`
}

// OutcomeFromError builds a failed Outcome. Typed pipeline errors keep their
// reason code; anything else is reported as an internal error.
func OutcomeFromError(requestID string, op Operation, err error) Outcome {
	out := Outcome{
		Success:   false,
		RequestID: requestID,
		Operation: string(op),
	}
	if pe, ok := AsError(err); ok {
		out.Code = pe.Reason()
		out.Error = pe.Msg
		if out.Error == "" {
			out.Error = pe.Reason()
		}
		if pe.Err != nil {
			out.Error += ": " + pe.Err.Error()
		}
		out.Details = pe.Detail
		return out
	}
	out.Error = "internal error"
	if err != nil {
		out.Details = err.Error()
	}
	return out
}
