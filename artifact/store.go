package artifact

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"gwpotential/ml"
	"gwpotential/pipeline"
)

type envelope struct {
	SchemaVersion int             `json:"schema_version"`
	Kind          string          `json:"kind"`
	RunID         string          `json:"run_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Payload       json.RawMessage `json:"payload"`
}

type encoderPayload struct {
	Encoder    *ml.OrdinalEncoder   `json:"encoder"`
	Vocabulary *pipeline.Vocabulary `json:"vocabulary"`
}

type featuresPayload struct {
	Features  []string         `json:"features"`
	Selection *ml.BorutaResult `json:"selection,omitempty"`
}

type modelPayload struct {
	Type       string          `json:"type"`
	Model      json.RawMessage `json:"model"`
	Evaluation *ml.Evaluation  `json:"evaluation,omitempty"`
}

// rename is swapped out in tests to fail a publish midway.
var rename = os.Rename

// Save writes the bundle to dir. Every member is staged in a temp file first and the
// current members are moved aside before publishing, so a failed save at any step
// leaves the previous bundle in place.
func Save(dir string, b *Bundle) error {
	if err := b.Validate(); err != nil {
		return eris.Wrap(err, "refusing to save inconsistent bundle")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "create artifact dir %s", dir)
	}

	payloads, err := b.payloads()
	if err != nil {
		return err
	}

	staged := make(map[string]string, len(Kinds))
	cleanup := func() {
		for _, tmp := range staged {
			_ = os.Remove(tmp)
		}
	}

	for _, kind := range Kinds {
		data, err := json.MarshalIndent(envelope{
			SchemaVersion: SchemaVersion,
			Kind:          kind,
			RunID:         b.RunID,
			CreatedAt:     b.CreatedAt.UTC(),
			Payload:       payloads[kind],
		}, "", "  ")
		if err != nil {
			cleanup()
			return eris.Wrapf(err, "encode %s", kind)
		}
		tmp, err := writeTemp(dir, FileName(kind), data)
		if err != nil {
			cleanup()
			return err
		}
		staged[kind] = tmp
	}

	if err := publish(dir, staged); err != nil {
		cleanup()
		return err
	}
	syncDir(dir)

	zap.L().Info("artifacts saved",
		zap.String("dir", dir),
		zap.String("run_id", b.RunID),
		zap.Strings("features", b.Features),
	)
	return nil
}

// publish renames the staged members into place. Existing members are kept as .bak
// until every rename has succeeded and are restored if one fails.
func publish(dir string, staged map[string]string) error {
	var backedUp, published []string
	rollback := func() {
		for _, dst := range published {
			_ = os.Remove(dst)
		}
		for _, dst := range backedUp {
			if err := rename(dst+backupSuffix, dst); err != nil {
				zap.L().Error("restore artifact failed", zap.String("path", dst), zap.Error(err))
			}
		}
	}

	for _, kind := range Kinds {
		dst := filepath.Join(dir, FileName(kind))
		if err := rename(dst, dst+backupSuffix); err == nil {
			backedUp = append(backedUp, dst)
		} else if !errors.Is(err, os.ErrNotExist) {
			rollback()
			return eris.Wrapf(err, "back up %s", kind)
		}
	}

	for _, kind := range Kinds {
		dst := filepath.Join(dir, FileName(kind))
		if err := rename(staged[kind], dst); err != nil {
			rollback()
			return eris.Wrapf(err, "publish %s", kind)
		}
		delete(staged, kind)
		published = append(published, dst)
	}

	for _, dst := range backedUp {
		_ = os.Remove(dst + backupSuffix)
	}
	return nil
}

const backupSuffix = ".bak"

func (b *Bundle) payloads() (map[string]json.RawMessage, error) {
	model, err := json.Marshal(b.Model)
	if err != nil {
		return nil, eris.Wrap(err, "encode model")
	}
	members := map[string]interface{}{
		KindEncoder:  encoderPayload{Encoder: b.Encoder, Vocabulary: b.Vocabulary},
		KindScaler:   b.Scaler,
		KindFeatures: featuresPayload{Features: b.Features, Selection: b.Selection},
		KindModel:    modelPayload{Type: ml.ModelSVC, Model: model, Evaluation: b.Evaluation},
	}
	out := make(map[string]json.RawMessage, len(members))
	for kind, v := range members {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, eris.Wrapf(err, "encode %s", kind)
		}
		out[kind] = data
	}
	return out, nil
}

func writeTemp(dir, name string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return "", eris.Wrapf(err, "stage %s", name)
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", eris.Wrapf(err, "write %s", name)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return "", eris.Wrapf(err, "sync %s", name)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", eris.Wrapf(err, "close %s", name)
	}
	return path, nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		zap.L().Debug("artifact dir sync failed", zap.Error(err))
	}
}

// Load reads and cross-checks all four members. Any problem is a *LoadError.
func Load(dir string) (*Bundle, error) {
	envs := make(map[string]*envelope, len(Kinds))
	for _, kind := range Kinds {
		env, err := readEnvelope(dir, kind)
		if err != nil {
			return nil, err
		}
		envs[kind] = env
	}

	runID := envs[KindEncoder].RunID
	for _, kind := range Kinds {
		if envs[kind].RunID != runID {
			return nil, &LoadError{
				Path:   filepath.Join(dir, FileName(kind)),
				Reason: "artifacts come from different training runs (" + runID + " vs " + envs[kind].RunID + ")",
			}
		}
	}

	b := &Bundle{RunID: runID, CreatedAt: envs[KindEncoder].CreatedAt}

	var enc encoderPayload
	if err := decodePayload(dir, envs[KindEncoder], &enc); err != nil {
		return nil, err
	}
	b.Encoder, b.Vocabulary = enc.Encoder, enc.Vocabulary

	b.Scaler = &ml.StandardScaler{}
	if err := decodePayload(dir, envs[KindScaler], b.Scaler); err != nil {
		return nil, err
	}

	var feats featuresPayload
	if err := decodePayload(dir, envs[KindFeatures], &feats); err != nil {
		return nil, err
	}
	b.Features, b.Selection = feats.Features, feats.Selection

	var mp modelPayload
	if err := decodePayload(dir, envs[KindModel], &mp); err != nil {
		return nil, err
	}
	model, err := ml.LoadModel(mp.Type, mp.Model)
	if err != nil {
		return nil, &LoadError{Path: filepath.Join(dir, FileName(KindModel)), Reason: "invalid model", Err: err}
	}
	svc, ok := model.(*ml.SVC)
	if !ok {
		return nil, &LoadError{Path: filepath.Join(dir, FileName(KindModel)), Reason: "model is not a support vector classifier"}
	}
	b.Model = svc
	b.Evaluation = mp.Evaluation

	if err := b.Validate(); err != nil {
		return nil, &LoadError{Path: dir, Reason: "inconsistent bundle", Err: err}
	}
	return b, nil
}

func readEnvelope(dir, kind string) (*envelope, error) {
	path := filepath.Join(dir, FileName(kind))
	data, err := os.ReadFile(path)
	if err != nil {
		reason := "cannot read artifact"
		if errors.Is(err, os.ErrNotExist) {
			reason = "artifact missing"
		}
		return nil, &LoadError{Path: path, Reason: reason, Err: err}
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &LoadError{Path: path, Reason: "corrupt artifact", Err: err}
	}
	if env.Kind != kind {
		return nil, &LoadError{Path: path, Reason: "unexpected kind " + env.Kind + ", want " + kind}
	}
	if env.SchemaVersion != SchemaVersion {
		return nil, &LoadError{Path: path, Reason: "unsupported schema version"}
	}
	if env.RunID == "" {
		return nil, &LoadError{Path: path, Reason: "artifact has no run id"}
	}
	return &env, nil
}

func decodePayload(dir string, env *envelope, v interface{}) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return &LoadError{Path: filepath.Join(dir, FileName(env.Kind)), Reason: "corrupt payload", Err: err}
	}
	return nil
}

// Exists reports whether every bundle file is present in dir.
func Exists(dir string) bool {
	for _, kind := range Kinds {
		if _, err := os.Stat(filepath.Join(dir, FileName(kind))); err != nil {
			return false
		}
	}
	return true
}
