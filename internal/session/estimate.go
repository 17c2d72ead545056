package session

import "time"

// MinEstimateSamples is the number of captured leaves needed before an ETA
// is given.
const MinEstimateSamples = 4

// ETA is the projected end of a scan job.
type ETA struct {
	Remaining time.Duration `json:"remaining"`
	Finish    time.Time     `json:"finish"`
	Percent   int           `json:"percent"`
}

// Estimate projects the end of a job that started at start and has
// captured leaves so far, done of total being complete. It reports false
// until MinEstimateSamples leaves were captured.
func Estimate(start, now time.Time, captured, done, total int) (ETA, bool) {
	if captured < MinEstimateSamples || total <= 0 {
		return ETA{}, false
	}
	perLeaf := now.Sub(start) / time.Duration(captured)
	remaining := perLeaf * time.Duration(max(total-done, 0))
	return ETA{
		Remaining: remaining,
		Finish:    now.Add(remaining),
		Percent:   100 * done / total,
	}, true
}
