package ports

// Metrics is the instrumentation port for the protection pipeline.
type Metrics interface {
	Rejected(reason string)
	SuspicionApplied(reason string, amount int)
	SessionBanned()
	SessionCreated()
	DownloadCompleted(sizeMB float64)
	DownloadFailed(reason string)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) Rejected(string) {}
func (NopMetrics) SuspicionApplied(string, int) {}
func (NopMetrics) SessionBanned() {}
func (NopMetrics) SessionCreated() {}
func (NopMetrics) DownloadCompleted(float64) {}
func (NopMetrics) DownloadFailed(string) {}
