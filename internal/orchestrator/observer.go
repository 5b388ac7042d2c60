package orchestrator

// Stages reported while a tender moves through the pipeline.
const (
	StageQueued      = "queued"
	StageAcquiring   = "acquiring"
	StageDownloading = "downloading"
	StageExtracting  = "extracting"
	StageMatching    = "matching"
	StagePersisting  = "persisting"
	StageUploading   = "uploading"
	StageDone        = "done"
)

// Progress is one observation of a tender. Report is set once Stage is
// StageDone.
type Progress struct {
	Key    string
	Worker string
	Stage  string
	Detail string
	Report *Report
}

// Observer receives progress from every worker. It is called synchronously
// and must not block.
type Observer func(Progress)

func (c *Coordinator) observe(p Progress) {
	if c.opts.Observer != nil {
		c.opts.Observer(p)
	}
}

// WithObserver returns a copy of c reporting progress to o.
func (c *Coordinator) WithObserver(o Observer) *Coordinator {
	cp := *c
	cp.opts.Observer = o
	return &cp
}
