package entities

// DefaultExperimentName is the name of the reserved default experiment.
const DefaultExperimentName = "Default"

// Tag keys recognized by the store itself.
const (
	RunNameTag          = "mlflow.runName"
	ArtifactLocationTag = "mlflow.artifactLocation"
	DatasetContextTag   = "mlflow.data.context"
)

type Experiment struct {
	ExperimentID     string          `json:"experiment_id"`
	Name             string          `json:"name"`
	ArtifactLocation string          `json:"artifact_location"`
	LifecycleStage   LifecycleStage  `json:"lifecycle_stage"`
	CreationTime     int64           `json:"creation_time"`
	LastUpdateTime   int64           `json:"last_update_time"`
	Tags             []ExperimentTag `json:"tags,omitempty"`
}

type ExperimentTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type RunInfo struct {
	RunID          string         `json:"run_id"`
	RunName        string         `json:"run_name"`
	ExperimentID   string         `json:"experiment_id"`
	UserID         string         `json:"user_id"`
	Status         RunStatus      `json:"status"`
	StartTime      int64          `json:"start_time"`
	EndTime        *int64         `json:"end_time"`
	ArtifactURI    string         `json:"artifact_uri"`
	LifecycleStage LifecycleStage `json:"lifecycle_stage"`
}

// Copy returns a shallow copy so callers can override fields without
// mutating values shared with other readers.
func (r *RunInfo) Copy() *RunInfo {
	dup := *r
	if r.EndTime != nil {
		end := *r.EndTime
		dup.EndTime = &end
	}
	return &dup
}

type RunData struct {
	Metrics []Metric `json:"metrics"`
	Params  []Param  `json:"params"`
	Tags    []RunTag `json:"tags"`
}

// MetricValue returns the current value recorded for the given key.
func (d *RunData) MetricValue(key string) (float64, bool) {
	for _, m := range d.Metrics {
		if m.Key == key {
			return m.Value, true
		}
	}
	return 0, false
}

type Run struct {
	Info    *RunInfo   `json:"info"`
	Data    *RunData   `json:"data"`
	Inputs  *RunInputs `json:"inputs"`
	Outputs *RunOutputs `json:"outputs"`
}

type RunTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
	// Optional linkage to the dataset the metric was computed on.
	DatasetName   string `json:"dataset_name,omitempty"`
	DatasetDigest string `json:"dataset_digest,omitempty"`
	RunID         string `json:"run_id,omitempty"`
	ModelID       string `json:"model_id,omitempty"`
}

type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Dataset struct {
	Name       string `json:"name"`
	Digest     string `json:"digest"`
	SourceType string `json:"source_type,omitempty"`
	Source     string `json:"source,omitempty"`
	Schema     string `json:"schema,omitempty"`
	Profile    string `json:"profile,omitempty"`
}

type InputTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type DatasetInput struct {
	Dataset *Dataset   `json:"dataset"`
	Tags    []InputTag `json:"tags,omitempty"`
}

type LoggedModelInput struct {
	ModelID string `json:"model_id"`
}

type LoggedModelOutput struct {
	ModelID string `json:"model_id"`
	Step    int64  `json:"step"`
}

type RunInputs struct {
	DatasetInputs []DatasetInput     `json:"dataset_inputs"`
	ModelInputs   []LoggedModelInput `json:"model_inputs"`
}

type RunOutputs struct {
	ModelOutputs []LoggedModelOutput `json:"model_outputs"`
}

// DatasetSummary is a deduplicated (experiment, name, digest, context) view
// over the dataset inputs of all runs in an experiment.
type DatasetSummary struct {
	ExperimentID string `json:"experiment_id"`
	Name         string `json:"name"`
	Digest       string `json:"digest"`
	Context      string `json:"context,omitempty"`
}
