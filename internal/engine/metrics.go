package engine

// MetricsHook observes controller transitions. Implementations must be safe
// for concurrent use and must not block.
type MetricsHook interface {
	OnOffer(issueID, ngoID string)
	OnAccept(issueID, ngoID string, won bool)
	OnExpire(issueID, ngoID string, exhausted bool)
	OnComplete(issueID, ngoID string)
	OnOverdue(issueID, ngoID string)
}

type noopMetrics struct{}

func (noopMetrics) OnOffer(string, string) {}
func (noopMetrics) OnAccept(string, string, bool) {}
func (noopMetrics) OnExpire(string, string, bool) {}
func (noopMetrics) OnComplete(string, string) {}
func (noopMetrics) OnOverdue(string, string) {}
