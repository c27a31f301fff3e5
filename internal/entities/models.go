package entities

type LoggedModel struct {
	ModelID              string            `json:"model_id"`
	ExperimentID         string            `json:"experiment_id"`
	Name                 string            `json:"name"`
	ArtifactLocation     string            `json:"artifact_location"`
	CreationTimestamp    int64             `json:"creation_timestamp"`
	LastUpdatedTimestamp int64             `json:"last_updated_timestamp"`
	SourceRunID          string            `json:"source_run_id,omitempty"`
	ModelType            string            `json:"model_type,omitempty"`
	Status               LoggedModelStatus `json:"status"`
	StatusMessage        string            `json:"status_message,omitempty"`
	Tags                 []LoggedModelTag  `json:"tags,omitempty"`
	Params               []Param           `json:"params,omitempty"`
	Metrics              []Metric          `json:"metrics,omitempty"`
}

type LoggedModelTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
