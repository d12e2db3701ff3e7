package sandbox

// SandboxInfo is the user-facing projection of a sandbox reconstructed from
// its derived cluster objects by the Aggregator.
type SandboxInfo struct {
	Name         string `json:"name" yaml:"name"`
	Namespace    string `json:"namespace" yaml:"namespace"`
	Status       string `json:"status" yaml:"status"`
	Ready        string `json:"ready" yaml:"ready"`
	Restarts     int32  `json:"restarts" yaml:"restarts"`
	Age          string `json:"age" yaml:"age"`
	Image        string `json:"image" yaml:"image"`
	ErrorMessage string `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
}

// SandboxMetrics is the per-sandbox resource-usage sample reported by
// GetMetrics. CPUUsage/MemoryUsage are the raw quantity strings reported by
// the metrics API (e.g. "23n", "512Ki") — unit parsing is left to the
// consumer, per spec.
type SandboxMetrics struct {
	Name        string `json:"name" yaml:"name"`
	Namespace   string `json:"namespace" yaml:"namespace"`
	CPUUsage    string `json:"cpuUsage" yaml:"cpuUsage"`
	MemoryUsage string `json:"memoryUsage" yaml:"memoryUsage"`
}

// ExecResult is the outcome of a single Exec call. A sandbox whose pod is
// not Running is reported as ExitCode 1 with the phase in Stderr; a missing
// pod or a cluster failure is returned by Exec as an error, not as an
// ExecResult.
type ExecResult struct {
	ExitCode   int    `json:"exitCode" yaml:"exitCode"`
	Stdout     string `json:"stdout" yaml:"stdout"`
	Stderr     string `json:"stderr" yaml:"stderr"`
	DurationMs int64  `json:"durationMs" yaml:"durationMs"`
}

// OperationResult is a success/message/error/data outcome record.
// CreateSandbox, DeleteSandbox and DeleteAllSandboxes do not return it;
// they return typed values and errors.
type OperationResult struct {
	Success bool   `json:"success" yaml:"success"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
	Data    any    `json:"data,omitempty" yaml:"data,omitempty"`
}

// DeleteReport is the per-sandbox outcome in the slice DeleteAllSandboxes
// returns.
type DeleteReport struct {
	Name    string `json:"name" yaml:"name"`
	Success bool   `json:"success" yaml:"success"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// ProgressEvent is emitted by the Lifecycle Controller at each state
// transition. Stage/Status follow the vocabulary in spec.md §8.8:
// stage ∈ {provisioning, before_script, network_lockdown, complete, error}.
type ProgressEvent struct {
	Stage   string
	Status  string
	Message string
	Script  string
	Policy  string
	Error   string
}

// ProgressSink receives ProgressEvents. Implementations must tolerate being
// called from the controller's goroutine and must not block indefinitely;
// the controller recovers panics raised by Emit so a broken sink never
// fails a create.
type ProgressSink interface {
	Emit(event ProgressEvent)
}

// ProgressSinkFunc adapts a plain function to ProgressSink.
type ProgressSinkFunc func(ProgressEvent)

func (f ProgressSinkFunc) Emit(e ProgressEvent) { f(e) }

// NopProgressSink discards all events.
var NopProgressSink ProgressSink = ProgressSinkFunc(func(ProgressEvent) {})

func emit(sink ProgressSink, e ProgressEvent) {
	if sink == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	sink.Emit(e)
}
