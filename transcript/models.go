package transcript

import "time"

// Message is one transcript entry. Immutable once created; accumulation of
// messages is the sole trigger for automatic analysis.
type Message struct {
	ID        string
	DisputeID string
	SenderID  string
	Body      string
	CreatedAt time.Time
}

// Evidence records an uploaded file attached to a dispute. Only metadata is
// kept here; storage and extraction live in external services.
type Evidence struct {
	ID         string
	DisputeID  string
	UploaderID string
	FileName   string
	FileRef    string
	CreatedAt  time.Time
}
