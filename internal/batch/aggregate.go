package batch

import "github.com/helixir/keyword-research-service/internal/domain"

// Aggregate counts jobs per state and sums the result counts of completed
// jobs. Each job's current state is taken as authoritative; a job in an
// unrecognised state is left out of every bucket.
func Aggregate(jobs []domain.Job) domain.BatchCounts {
	var c domain.BatchCounts
	for i := range jobs {
		switch jobs[i].State {
		case domain.JobStatePending:
			c.Pending++
		case domain.JobStateProcessing:
			c.Processing++
		case domain.JobStateCompleted:
			c.Completed++
			c.TotalResultCount += jobs[i].ResultCount
		case domain.JobStateError:
			c.Error++
		}
	}
	return c
}
