package orchestrator

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"docparse-tracker/internal/models"
)

// Upstream task-type codes.
const (
	TaskTypePPT = 4
	TaskTypeDoc = 5
	TaskTypePDF = 8
)

var taskTypes = map[string]int{
	".ppt":  TaskTypePPT,
	".pptx": TaskTypePPT,
	".doc":  TaskTypeDoc,
	".docx": TaskTypeDoc,
	".pdf":  TaskTypePDF,
}

// TaskType maps a file name to the upstream task-type code by extension.
func TaskType(name string) (int, error) {
	ext := strings.ToLower(filepath.Ext(name))
	code, ok := taskTypes[ext]
	if !ok {
		if ext == "" {
			ext = "(none)"
		}
		return 0, fmt.Errorf("extension %s: %w", ext, models.ErrUnsupportedType)
	}
	return code, nil
}

// SupportedExtensions lists accepted extensions in sorted order.
func SupportedExtensions() []string {
	out := make([]string, 0, len(taskTypes))
	for ext := range taskTypes {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
