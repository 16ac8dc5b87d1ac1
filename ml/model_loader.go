package ml

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

const ModelSVC = "svc"

func LoadModel(modelType string, payload []byte) (MLModel, error) {
	switch modelType {
	case ModelSVC:
		model := &SVC{}
		if err := json.Unmarshal(payload, model); err != nil {
			return nil, eris.Wrap(err, "decode svc")
		}
		if len(model.SupportVectors) == 0 {
			return nil, errNotTrained
		}
		return model, nil
	default:
		return nil, eris.Errorf("unsupported model type %q", modelType)
	}
}
