package entities

import "fmt"

type LifecycleStage string

const (
	LifecycleStageActive  LifecycleStage = "active"
	LifecycleStageDeleted LifecycleStage = "deleted"
)

type ViewType int

const (
	ViewTypeActiveOnly ViewType = iota + 1
	ViewTypeDeletedOnly
	ViewTypeAll
)

// MatchesView reports whether an entity in the given stage is visible
// under the requested view.
func (s LifecycleStage) MatchesView(view ViewType) bool {
	switch view {
	case ViewTypeActiveOnly:
		return s == LifecycleStageActive
	case ViewTypeDeletedOnly:
		return s == LifecycleStageDeleted
	default:
		return true
	}
}

// RunStatus is persisted as an integer enum in meta files but surfaced as a
// string, mirroring the historical wire format.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusScheduled RunStatus = "SCHEDULED"
	RunStatusFinished  RunStatus = "FINISHED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusKilled    RunStatus = "KILLED"
)

var runStatusToInt = map[RunStatus]int{
	RunStatusRunning:   1,
	RunStatusScheduled: 2,
	RunStatusFinished:  3,
	RunStatusFailed:    4,
	RunStatusKilled:    5,
}

var runStatusFromInt = map[int]RunStatus{
	1: RunStatusRunning,
	2: RunStatusScheduled,
	3: RunStatusFinished,
	4: RunStatusFailed,
	5: RunStatusKilled,
}

func (s RunStatus) Int() (int, error) {
	v, ok := runStatusToInt[s]
	if !ok {
		return 0, fmt.Errorf("unknown run status %q", string(s))
	}
	return v, nil
}

func RunStatusFromInt(v int) (RunStatus, error) {
	s, ok := runStatusFromInt[v]
	if !ok {
		return "", fmt.Errorf("unknown run status value %d", v)
	}
	return s, nil
}

func (s RunStatus) Valid() bool {
	_, ok := runStatusToInt[s]
	return ok
}

type LoggedModelStatus string

const (
	LoggedModelStatusPending LoggedModelStatus = "PENDING"
	LoggedModelStatusReady   LoggedModelStatus = "READY"
	LoggedModelStatusFailed  LoggedModelStatus = "FAILED"
)

func (s LoggedModelStatus) Valid() bool {
	switch s {
	case LoggedModelStatusPending, LoggedModelStatusReady, LoggedModelStatusFailed:
		return true
	}
	return false
}

type TraceState string

const (
	TraceStateInProgress TraceState = "IN_PROGRESS"
	TraceStateOK         TraceState = "OK"
	TraceStateError      TraceState = "ERROR"
)
