package worker

import "github.com/book-expert/events"

// AnalysisRequestedEvent asks for one media object to be analyzed. The media
// bytes live in the media bucket under MediaKey.
type AnalysisRequestedEvent struct {
	Header       events.EventHeader `json:"header"`
	MediaKey     string             `json:"media_key"`
	MimeType     string             `json:"mime_type,omitempty"`
	DisplayName  string             `json:"display_name,omitempty"`
	Prompt       string             `json:"prompt"`
	Model        string             `json:"model,omitempty"`
	Voice        string             `json:"voice,omitempty"`
	UploadMethod string             `json:"upload_method,omitempty"`
	Credential   string             `json:"credential,omitempty"`
	Speak        bool               `json:"speak,omitempty"`
}

// AnalysisCompletedEvent is the reply to an AnalysisRequestedEvent. Error and
// ErrorKind are set instead of the result fields when the job failed;
// UpstreamBody carries Gemini's response body when it rejected a call.
type AnalysisCompletedEvent struct {
	Header       events.EventHeader `json:"header"`
	Text         string             `json:"text,omitempty"`
	Model        string             `json:"model,omitempty"`
	Strategy     string             `json:"strategy,omitempty"`
	RemoteID     string             `json:"remote_id,omitempty"`
	AudioKey     string             `json:"audio_key,omitempty"`
	Error        string             `json:"error,omitempty"`
	ErrorKind    string             `json:"error_kind,omitempty"`
	UpstreamBody string             `json:"upstream_body,omitempty"`
}
