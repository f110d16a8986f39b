package events

// EventData is implemented by every typed payload
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// RunStartedData announces a driver invocation
type RunStartedData struct {
	RunID      string `json:"run_id"`
	Driver     string `json:"driver"`
	Iterations int    `json:"iterations"`
	Workers    int    `json:"workers"`
}

// EventType returns the event type for RunStartedData
func (d *RunStartedData) EventType() EventType {
	return RunStarted
}

// IterationCompletedData reports one scored iteration
type IterationCompletedData struct {
	RunID       string  `json:"run_id"`
	Driver      string  `json:"driver"`
	Iteration   int     `json:"iteration"`
	Label       string  `json:"label,omitempty"`
	Sharpe      float64 `json:"sharpe"`
	MaxDrawdown float64 `json:"max_drawdown"`
	Completed   int     `json:"completed"`
	Total       int     `json:"total"`
}

// EventType returns the event type for IterationCompletedData
func (d *IterationCompletedData) EventType() EventType {
	return IterationCompleted
}

// IterationFailedData reports a skipped iteration
type IterationFailedData struct {
	RunID     string `json:"run_id"`
	Driver    string `json:"driver"`
	Iteration int    `json:"iteration"`
	Label     string `json:"label,omitempty"`
	Stage     string `json:"stage"`
	Error     string `json:"error"`
}

// EventType returns the event type for IterationFailedData
func (d *IterationFailedData) EventType() EventType {
	return IterationFailed
}

// RunConvergedData reports a Monte Carlo early stop
type RunConvergedData struct {
	RunID      string  `json:"run_id"`
	Driver     string  `json:"driver"`
	Iterations int     `json:"iterations"`
	Spread     float64 `json:"spread"`
}

// EventType returns the event type for RunConvergedData
func (d *RunConvergedData) EventType() EventType {
	return RunConverged
}

// RunFinishedData closes a run. Status is "completed" or "failed".
type RunFinishedData struct {
	RunID      string  `json:"run_id"`
	Driver     string  `json:"driver"`
	Status     string  `json:"status"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
	MeanSharpe float64 `json:"mean_sharpe"`
	Duration   float64 `json:"duration"`
	Error      string  `json:"error,omitempty"`
}

// EventType returns the event type for RunFinishedData
func (d *RunFinishedData) EventType() EventType {
	if d.Status == "failed" {
		return RunFailed
	}
	return RunCompleted
}

// ReportArchivedData reports an uploaded report
type ReportArchivedData struct {
	ReportID string `json:"report_id"`
	Key      string `json:"key"`
	Bytes    int    `json:"bytes"`
}

// EventType returns the event type for ReportArchivedData
func (d *ReportArchivedData) EventType() EventType {
	return ReportArchived
}
