package models

// DispatcherState is the state of the sync dispatcher state machine.
type DispatcherState string

const (
	StateIdle    DispatcherState = "idle"
	StateSending DispatcherState = "sending"
	StateBackoff DispatcherState = "backoff"
)

// Indicator values shown by the UI.
const (
	IndicatorIdle    = "idle"
	IndicatorSyncing = "syncing"
	IndicatorOffline = "offline"
	IndicatorError   = "error"
)

// SyncStatus is a transient snapshot of the dispatcher; never persisted.
type SyncStatus struct {
	State              DispatcherState `json:"state"`
	IsSyncing          bool            `json:"is_syncing"`
	LastError          string          `json:"last_error,omitempty"`
	Pending            int             `json:"pending"`
	Online             bool            `json:"online"`
	EndpointConfigured bool            `json:"endpoint_configured"`
}

// Indicator derives the UI indicator. Offline with pending work is not an error.
func (s SyncStatus) Indicator() string {
	switch {
	case !s.Online && s.Pending > 0:
		return IndicatorOffline
	case s.LastError != "" && s.Online:
		return IndicatorError
	case s.IsSyncing:
		return IndicatorSyncing
	default:
		return IndicatorIdle
	}
}
