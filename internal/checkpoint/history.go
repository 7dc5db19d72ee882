package checkpoint

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/born-ml/mimo/internal/metrics"
)

// SaveHistory writes h as an indented JSON document:
//
//	{"run_id": "...", "train": [{"train/loss": 1.2, ...}, ...], "test": [...]}
func SaveHistory(path string, h *metrics.History) error {
	doc, err := structpb.NewStruct(map[string]any{
		"run_id": h.RunID,
		"train":  snapshots(h.Train),
		"test":   snapshots(h.Test),
	})
	if err != nil {
		return errors.Wrap(err, "encode history")
	}
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "marshal history")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create metrics dir")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "write history")
}

// LoadHistory reads a file written by SaveHistory.
func LoadHistory(path string) (*metrics.History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read history")
	}
	var doc structpb.Struct
	if err := protojson.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}

	fields := doc.GetFields()
	h := &metrics.History{RunID: fields["run_id"].GetStringValue()}
	if h.Train, err = parseSnapshots(fields["train"]); err != nil {
		return nil, errors.Wrap(err, "train")
	}
	if h.Test, err = parseSnapshots(fields["test"]); err != nil {
		return nil, errors.Wrap(err, "test")
	}
	return h, nil
}

func snapshots(in []metrics.Snapshot) []any {
	out := make([]any, len(in))
	for i, s := range in {
		m := make(map[string]any, len(s))
		for k, v := range s {
			m[k] = v
		}
		out[i] = m
	}
	return out
}

func parseSnapshots(v *structpb.Value) ([]metrics.Snapshot, error) {
	var out []metrics.Snapshot
	for i, item := range v.GetListValue().GetValues() {
		rec := item.GetStructValue()
		if rec == nil {
			return nil, errors.Errorf("epoch %d is not an object", i)
		}
		s := make(metrics.Snapshot, len(rec.GetFields()))
		for name, value := range rec.GetFields() {
			if _, ok := value.GetKind().(*structpb.Value_NumberValue); !ok {
				return nil, errors.Errorf("epoch %d: %s is not a number", i, name)
			}
			s[name] = value.GetNumberValue()
		}
		out = append(out, s)
	}
	return out, nil
}
