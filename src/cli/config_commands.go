package cli

import (
	"fmt"
	"io"

	"unity-references/src/config"
	"unity-references/src/internal/common"
)

// RunConfigInit writes the default configuration to path, or to the default
// location when path is empty. An existing file is kept unless overwrite is set.
func RunConfigInit(out io.Writer, path string, overwrite bool) error {
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if common.FileExists(path) && !overwrite {
		return fmt.Errorf("configuration file %s already exists (use --overwrite to replace it)", path)
	}

	if err := config.GenerateDefaultConfig(path); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "Wrote default configuration to %s\n", path)
	return nil
}
