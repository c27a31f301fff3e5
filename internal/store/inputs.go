package store

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/Spencerx/mlflow/internal/entities"
	"github.com/Spencerx/mlflow/pkg/record"
)

// Lineage vertex type names as persisted in edge documents.
const (
	vertexTypeRun         = "RUN"
	vertexTypeDataset     = "DATASET"
	vertexTypeModel       = "MODEL"
	vertexTypeRunOutput   = "RUN_OUTPUT"
	vertexTypeModelOutput = "MODEL_OUTPUT"
)

const maxDatasetSummaries = 1000

// lineageEdge is the meta.yaml layout of an input or output edge. The edge
// directory name is already content-addressed, so the document is purely
// descriptive.
type lineageEdge struct {
	SourceType      string            `json:"source_type"`
	SourceID        string            `json:"source_id"`
	DestinationType string            `json:"destination_type"`
	DestinationID   string            `json:"destination_id"`
	Tags            map[string]string `json:"tags"`
	Step            int64             `json:"step,omitempty"`
}

// contentID derives a stable hex id from the concatenation of its parts.
// Dataset ids hash name and digest; edge ids hash the source id and run id,
// which makes re-logging the same input a no-op.
func contentID(parts ...string) string {
	h := md5.New()
	for _, part := range parts {
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *FileStore) LogInputs(runID string, datasets []entities.DatasetInput, models []entities.LoggedModelInput) error {
	info, runDir, err := s.getRunInfo(runID)
	if err != nil {
		return err
	}
	if err := s.checkRunIsActive(info); err != nil {
		return err
	}
	if len(datasets) == 0 && len(models) == 0 {
		return nil
	}
	experimentDir := filepath.Dir(runDir)
	for _, datasetInput := range datasets {
		dataset := datasetInput.Dataset
		if dataset == nil {
			return entities.NewError(entities.ErrorCodeInvalidParameterValue, "DatasetInput must specify a dataset.")
		}
		datasetID := contentID(dataset.Name, dataset.Digest)
		datasetDir := filepath.Join(experimentDir, DatasetsFolderName, datasetID)
		if err := s.writeIfAbsent(datasetDir, dataset); err != nil {
			return err
		}
		tags := map[string]string{}
		for _, tag := range datasetInput.Tags {
			tags[tag.Key] = tag.Value
		}
		edge := &lineageEdge{
			SourceType:      vertexTypeDataset,
			SourceID:        datasetID,
			DestinationType: vertexTypeRun,
			DestinationID:   runID,
			Tags:            tags,
		}
		edgeDir := filepath.Join(runDir, InputsFolderName, contentID(datasetID, runID))
		if err := s.writeIfAbsent(edgeDir, edge); err != nil {
			return err
		}
	}
	for _, modelInput := range models {
		edge := &lineageEdge{
			SourceType:      vertexTypeModel,
			SourceID:        modelInput.ModelID,
			DestinationType: vertexTypeRun,
			DestinationID:   runID,
			Tags:            map[string]string{},
		}
		edgeDir := filepath.Join(runDir, InputsFolderName, contentID(modelInput.ModelID, runID))
		if err := s.writeIfAbsent(edgeDir, edge); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) LogOutputs(runID string, models []entities.LoggedModelOutput) error {
	info, runDir, err := s.getRunInfo(runID)
	if err != nil {
		return err
	}
	if err := s.checkRunIsActive(info); err != nil {
		return err
	}
	for _, modelOutput := range models {
		edge := &lineageEdge{
			SourceType:      vertexTypeRunOutput,
			SourceID:        modelOutput.ModelID,
			DestinationType: vertexTypeModelOutput,
			DestinationID:   runID,
			Tags:            map[string]string{},
			Step:            modelOutput.Step,
		}
		edgeDir := filepath.Join(runDir, OutputsFolderName, modelOutput.ModelID)
		if err := s.writeIfAbsent(edgeDir, edge); err != nil {
			return err
		}
	}
	return nil
}

// writeIfAbsent creates dir with a meta.yaml, skipping silently when the
// directory already exists.
func (s *FileStore) writeIfAbsent(dir string, data interface{}) error {
	exists, err := afero.DirExists(s.fs, dir)
	if err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to stat %q", dir)
	}
	if exists {
		return nil
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to create %q", dir)
	}
	metaPath := filepath.Join(dir, MetaDataFileName)
	if err := record.WriteYAML(s.fs, metaPath, data, true); err != nil {
		return entities.WrapError(err, entities.ErrorCodeInternal, "failed to write %q", metaPath)
	}
	return nil
}

func (s *FileStore) runEdges(parentDir string) ([]*lineageEdge, error) {
	dirs, _, err := record.ListDir(s.fs, parentDir)
	if err != nil {
		return nil, entities.WrapError(err, entities.ErrorCodeInternal, "failed to list %q", parentDir)
	}
	edges := make([]*lineageEdge, 0, len(dirs))
	for _, name := range dirs {
		var edge lineageEdge
		if err := s.readMeta(filepath.Join(parentDir, name, MetaDataFileName), &edge); err != nil {
			if entities.IsMissingConfig(err) {
				log.Warnf("Malformed lineage edge %q. Detailed error: %v", name, err)
				continue
			}
			return nil, err
		}
		edges = append(edges, &edge)
	}
	return edges, nil
}

// runInputs rebuilds the input lineage of a run. Dataset edges whose
// dataset document has gone missing are skipped with a warning rather than
// failing the whole read.
func (s *FileStore) runInputs(runDir string) (*entities.RunInputs, error) {
	inputs := &entities.RunInputs{
		DatasetInputs: []entities.DatasetInput{},
		ModelInputs:   []entities.LoggedModelInput{},
	}
	edges, err := s.runEdges(filepath.Join(runDir, InputsFolderName))
	if err != nil {
		return nil, err
	}
	datasetsDir := filepath.Join(filepath.Dir(runDir), DatasetsFolderName)
	for _, edge := range edges {
		switch edge.SourceType {
		case vertexTypeDataset:
			var dataset entities.Dataset
			err := s.readMeta(filepath.Join(datasetsDir, edge.SourceID, MetaDataFileName), &dataset)
			if err != nil {
				if entities.IsMissingConfig(err) {
					log.Warnf("Failed to find dataset with ID %q referenced as an input of the run %q. Skipping.",
						edge.SourceID, filepath.Base(runDir))
					continue
				}
				return nil, err
			}
			tags := make([]entities.InputTag, 0, len(edge.Tags))
			for key, value := range edge.Tags {
				tags = append(tags, entities.InputTag{Key: key, Value: value})
			}
			inputs.DatasetInputs = append(inputs.DatasetInputs, entities.DatasetInput{
				Dataset: &dataset,
				Tags:    tags,
			})
		case vertexTypeModel:
			inputs.ModelInputs = append(inputs.ModelInputs, entities.LoggedModelInput{ModelID: edge.SourceID})
		}
	}
	return inputs, nil
}

func (s *FileStore) runOutputs(runDir string) (*entities.RunOutputs, error) {
	outputs := &entities.RunOutputs{ModelOutputs: []entities.LoggedModelOutput{}}
	edges, err := s.runEdges(filepath.Join(runDir, OutputsFolderName))
	if err != nil {
		return nil, err
	}
	for _, edge := range edges {
		if edge.DestinationType != vertexTypeModelOutput {
			continue
		}
		outputs.ModelOutputs = append(outputs.ModelOutputs, entities.LoggedModelOutput{
			ModelID: edge.SourceID,
			Step:    edge.Step,
		})
	}
	return outputs, nil
}

// SearchDatasets returns the distinct (dataset, context) pairs used across
// the runs of the given experiments, capped at a fixed result count.
func (s *FileStore) SearchDatasets(experimentIDs []string) ([]entities.DatasetSummary, error) {
	type summaryKey struct {
		experimentID string
		name         string
		digest       string
		context      string
	}
	seen := map[summaryKey]bool{}
	summaries := []entities.DatasetSummary{}
	for _, experimentID := range experimentIDs {
		experimentDir, err := s.experimentPath(experimentID, entities.ViewTypeAll, true)
		if err != nil {
			return nil, err
		}
		runIDs, err := s.runIDsIn(experimentDir)
		if err != nil {
			return nil, err
		}
		for _, runID := range runIDs {
			inputs, err := s.runInputs(filepath.Join(experimentDir, runID))
			if err != nil {
				return nil, err
			}
			for _, datasetInput := range inputs.DatasetInputs {
				context := ""
				for _, tag := range datasetInput.Tags {
					if tag.Key == entities.DatasetContextTag {
						context = tag.Value
						break
					}
				}
				key := summaryKey{
					experimentID: experimentID,
					name:         datasetInput.Dataset.Name,
					digest:       datasetInput.Dataset.Digest,
					context:      context,
				}
				if seen[key] {
					continue
				}
				seen[key] = true
				summaries = append(summaries, entities.DatasetSummary{
					ExperimentID: experimentID,
					Name:         datasetInput.Dataset.Name,
					Digest:       datasetInput.Dataset.Digest,
					Context:      context,
				})
				if len(summaries) == maxDatasetSummaries {
					return summaries, nil
				}
			}
		}
	}
	return summaries, nil
}
