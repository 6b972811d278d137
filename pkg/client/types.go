package client

// StartRequest mirrors the server's run spec body.
type StartRequest struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	WorkDir string   `json:"work_dir,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// RunInfo mirrors one registry record as returned by the server.
type RunInfo struct {
	RunName string `json:"runName"`
	PID     int    `json:"pid"`
	Command string `json:"command"`
	LogFile string `json:"logFile"`
}

// RunDetail is a RunInfo augmented with the process start time, as
// returned by GET /runs?detailed=1.
type RunDetail struct {
	RunInfo
	StartedAt int64  `json:"startedAt,omitempty"`
	Uptime    string `json:"uptime,omitempty"`
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}
