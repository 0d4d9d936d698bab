package params

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mattjoyce/swage/internal/workspace"
)

// RFConfigFilename is the side file carrying the serialized random
// forest block. The trainer reads it instead of taking every
// hyperparameter as an individual flag.
const RFConfigFilename = "rf_config.json"

// WriteRFConfig serializes the random forest hyperparameter block into
// the workspace and returns the absolute path of the written file.
func WriteRFConfig(ws workspace.Workspace, block map[string]any) (string, error) {
	if block == nil {
		return "", fmt.Errorf("random forest block is empty")
	}

	data, err := json.Marshal(block)
	if err != nil {
		return "", fmt.Errorf("serialize random forest block: %w", err)
	}

	path := ws.Join(RFConfigFilename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", RFConfigFilename, err)
	}

	return path, nil
}
