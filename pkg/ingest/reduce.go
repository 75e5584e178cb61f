package ingest

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/nam-edi/playwright-analyst/pkg/report"
	"github.com/nam-edi/playwright-analyst/pkg/store"
)

// reduced is the single row produced from all retry attempts of one
// test entry.
type reduced struct {
	Status        string
	WorkerIndex   int
	ParallelIndex int
	Duration      float64
	Retry         int
	StartTime     time.Time

	Errors      string
	Stdout      string
	Stderr      string
	Steps       string
	Annotations string
	Attachments string
}

// reduceAttempts collapses a test entry's retry attempts into one
// result. The representative attempt carries status, retry number,
// worker indices and annotations verbatim. Output arrays are
// concatenated across every attempt in retry order so no failure
// detail from earlier attempts is lost, and durations are summed.
// StartTime is the earliest parseable attempt start, zero when none
// parses.
func reduceAttempts(results []report.Result) reduced {
	attempts := make([]report.Result, len(results))
	copy(attempts, results)

	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].Retry < attempts[j].Retry
	})

	final := attempts[len(attempts)-1]

	// A test that eventually passed is best described by its passing
	// attempt; one that never recovered by its first attempt.
	rep := attempts[0]
	if final.Status == store.StatusPassed || final.Status == store.StatusExpected {
		rep = firstAtRetry(attempts, final.Retry)
	}

	out := reduced{
		Status:        rep.Status,
		WorkerIndex:   rep.WorkerIndex,
		ParallelIndex: rep.ParallelIndex,
		Retry:         rep.Retry,
		Annotations:   marshalArray(rep.Annotations),
	}

	var errs, stdout, stderr, steps, attach []json.RawMessage

	for _, a := range attempts {
		out.Duration += a.Duration

		errs = append(errs, a.Errors...)
		stdout = append(stdout, a.Stdout...)
		stderr = append(stderr, a.Stderr...)
		steps = append(steps, a.Steps...)
		attach = append(attach, a.Attachments...)

		t := report.ParseTime(a.StartTime, time.Time{})
		if !t.IsZero() && (out.StartTime.IsZero() || t.Before(out.StartTime)) {
			out.StartTime = t
		}
	}

	out.Errors = marshalArray(errs)
	out.Stdout = marshalArray(stdout)
	out.Stderr = marshalArray(stderr)
	out.Steps = marshalArray(steps)
	out.Attachments = marshalArray(attach)

	return out
}

func firstAtRetry(attempts []report.Result, retry int) report.Result {
	for _, a := range attempts {
		if a.Retry == retry {
			return a
		}
	}

	return attempts[0]
}

// marshalArray renders raw JSON elements back into one array, "[]"
// when empty.
func marshalArray(items []json.RawMessage) string {
	if len(items) == 0 {
		return "[]"
	}

	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}

	return string(data)
}
