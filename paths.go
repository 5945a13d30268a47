package pcksafe

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ConfigFile is the name Mailman gives a list's pickled configuration.
const ConfigFile = "config.pck"

// ListConfigPath returns the configuration blob of list under listsDir.
// Names that would leave listsDir are refused.
func ListConfigPath(listsDir, list string) (string, error) {
	if list == "" || list == "." || list == ".." || strings.ContainsAny(list, "/\x00") {
		return "", fmt.Errorf("pcksafe: bad list name %q", list)
	}
	return filepath.Join(listsDir, list, ConfigFile), nil
}
