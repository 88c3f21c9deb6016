package ledger

import "docparse-tracker/internal/models"

// snapshot copies an artifact so callers never share memory with the ledger.
func snapshot(a *models.Artifact) models.Artifact {
	out := *a
	out.TaskID = cloneString(a.TaskID)
	out.ResultLocation = cloneString(a.ResultLocation)
	out.FailureReason = cloneString(a.FailureReason)
	out.ResultMetadata = cloneMap(a.ResultMetadata)
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
