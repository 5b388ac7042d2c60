package app

// AppState is the phase the progress view is in.
type AppState int

const (
	Running AppState = iota
	Finished
	ShowError
	Exiting
)

func (s AppState) String() string {
	switch s {
	case Running:
		return "running"
	case Finished:
		return "finished"
	case ShowError:
		return "error"
	case Exiting:
		return "exiting"
	}
	return "unknown"
}
