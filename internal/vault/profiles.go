package vault

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-ini/ini"
)

// Profiles lists the profile names defined in the shared AWS config file,
// excluding the implicit default, sorted by name. The vault resolves its
// own backend configuration from the same file, so this is the set of
// profiles Login and Export accept.
func Profiles() ([]string, error) {
	path := awsConfigPath()
	file, err := ini.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read aws config %s: %w", path, err)
	}

	var names []string
	for _, section := range file.Sections() {
		name := section.Name()
		switch name {
		case ini.DefaultSection, "default":
			continue
		}
		name = strings.TrimPrefix(name, "profile ")
		if name == "" || name == "default" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func awsConfigPath() string {
	if path := strings.TrimSpace(os.Getenv("AWS_CONFIG_FILE")); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".aws", "config")
	}
	return filepath.Join(home, ".aws", "config")
}
