package emit

// Event is one observability record: a lifecycle transition, a dispatch
// decision, or an error surfaced somewhere in the App/Engine/Extension
// hierarchy.
type Event struct {
	// AppURI and GraphID identify which running graph emitted this event;
	// GraphID is empty for app-level events (e.g. close_app).
	AppURI  string
	GraphID string

	// Loc, if non-empty, names the extension or group the event concerns.
	Loc string

	// Msg is a short, human-readable description ("extension started",
	// "command dropped: queue exhausted").
	Msg string

	// Meta carries event-specific structured fields, e.g. "cmd_name",
	// "duration_ms", "detail".
	Meta map[string]interface{}
}
