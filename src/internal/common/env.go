package common

import (
	"os"
	"strings"
)

const trueStr = "true"

// Environment overrides
const (
	EnvDebug      = "UNITY_REFERENCES_DEBUG"
	EnvServerPath = "UNITY_REFERENCES_SERVER_PATH"
	EnvDataDir    = "UNITY_REFERENCES_DATA_DIR"
)

// LookupEnv returns the trimmed value of name and whether it was non-empty.
func LookupEnv(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	return v, v != ""
}
