package events

// PluginHealthEvent is emitted when a strategy handle changes state.
// State is one of "enabled", "degraded" or "disabled".
type PluginHealthEvent struct {
	Plugin   string
	State    string
	Failures int
	Err      error
}
