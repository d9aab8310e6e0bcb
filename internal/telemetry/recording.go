package telemetry

import (
	"strings"
	"sync"
)

type Level int

const (
	LevelDebug Level = iota
	LevelWarning
	LevelBroken
	LevelCount
)

type Report struct {
	Level  Level
	Id     string
	Params []any
	Count  int64
}

// RecordingAPI keeps every report in memory so tests can assert that a failure was
// surfaced. It is safe for concurrent use.
type RecordingAPI struct {
	mutex   sync.Mutex
	reports []Report
}

func NewRecordingAPI() *RecordingAPI {
	return &RecordingAPI{}
}

func (r *RecordingAPI) record(report Report) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.reports = append(r.reports, report)
}

func (r *RecordingAPI) ReportBroken(id string, params ...any) {
	r.record(Report{Level: LevelBroken, Id: id, Params: params})
}

func (r *RecordingAPI) ReportWarning(id string, params ...any) {
	r.record(Report{Level: LevelWarning, Id: id, Params: params})
}

func (r *RecordingAPI) ReportDebug(msg string, params ...any) {
	r.record(Report{Level: LevelDebug, Id: msg, Params: params})
}

func (r *RecordingAPI) ReportCount(id string, count int64) {
	r.record(Report{Level: LevelCount, Id: id, Count: count})
}

func (r *RecordingAPI) Reports() []Report {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([]Report, len(r.reports))
	copy(out, r.reports)
	return out
}

// Find returns the reports at the given level whose id ends with idSuffix, scoped ids
// carry a namespace prefix so tests usually only know the suffix.
func (r *RecordingAPI) Find(level Level, idSuffix string) []Report {
	var out []Report
	for _, report := range r.Reports() {
		if report.Level == level && strings.HasSuffix(report.Id, idSuffix) {
			out = append(out, report)
		}
	}
	return out
}
