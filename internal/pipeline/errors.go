package pipeline

import "fmt"

// Stage names a step of the analysis chain.
type Stage string

const (
	StageIngest    Stage = "ingest"
	StageDetect    Stage = "detect"
	StageRR        Stage = "rr"
	StageTime      Stage = "time"
	StageFrequency Stage = "frequency"
	StageNonlinear Stage = "nonlinear"
	StageSQI       Stage = "sqi"
	StageRecording Stage = "recording"
)

// StageError reports which stage failed. It unwraps to the physio sentinel
// that describes the failure.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}
