package detector

// Detector is a strategy that determines whether a run's process is still
// alive. Implementations must be safe for concurrent use and must answer
// conservatively: when the platform cannot decide, report alive rather than
// let a registry prune destroy access to a run that is still writing output.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}
