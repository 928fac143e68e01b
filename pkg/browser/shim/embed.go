// File: pkg/browser/shim/embed.go
package shim

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed datalayer_shim.js
var captureShimTemplate string

// LocalStorageKey is where the shim mirrors the capture buffer so it survives
// an external-origin detour within the same run.
const LocalStorageKey = "tagsentryCapturedEvents"

// StateGlobal is the window property holding the shim's buffer and flags.
const StateGlobal = "__tagsentryCapture"

// BuildCaptureShim renders the embedded capture script with the localStorage
// key baked in.
func BuildCaptureShim() (string, error) {
	if captureShimTemplate == "" {
		return "", fmt.Errorf("embedded datalayer_shim.js template is empty or failed to load")
	}
	return strings.ReplaceAll(captureShimTemplate, "__TS_LS_KEY__", LocalStorageKey), nil
}
