package appconfig

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// legacyKeys maps the flat config.txt keys onto the structured config.
var legacyKeys = map[string]string{
	"hostname":    "ssh.host",
	"port":        "ssh.port",
	"username":    "ssh.user",
	"password":    "ssh.password",
	"local_port":  "forward.local_port",
	"remote_host": "forward.remote_host",
	"remote_port": "forward.remote_port",
	"model":       "chat.model",
}

// legacyFormat is the viper config type for flat key=value files.
const legacyFormat = "properties"

// legacyCodec reads config.txt: one key=value per line, split on the first
// '=', surrounding whitespace trimmed, blank lines and '#' comments skipped.
// Values are taken verbatim so backslashes and '$' survive.
type legacyCodec struct{}

func (legacyCodec) Decode(b []byte, v map[string]any) error {
	scanner := bufio.NewScanner(bytes.NewReader(b))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("line %d: expected key=value", lineNo)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return fmt.Errorf("line %d: empty key", lineNo)
		}
		v[key] = strings.TrimSpace(value)
	}
	return scanner.Err()
}

func (legacyCodec) Encode(v map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(v))
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for _, key := range keys {
		fmt.Fprintf(&buf, "%s=%v\n", key, v[key])
	}
	return buf.Bytes(), nil
}

func codecRegistry() viper.CodecRegistry {
	registry := viper.NewCodecRegistry()
	// RegisterCodec does not fail.
	_ = registry.RegisterCodec(legacyFormat, legacyCodec{})
	return registry
}

func isLegacyPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".txt")
}

// applyLegacy copies legacy keys onto their structured names. Keys overridden
// in the environment are left alone since Set outranks the environment.
func applyLegacy(v *viper.Viper) error {
	for legacy, key := range legacyKeys {
		if !v.InConfig(legacy) {
			continue
		}
		value := strings.TrimSpace(v.GetString(legacy))
		if value == "" {
			continue
		}
		if envSet(key) {
			continue
		}
		v.Set(key, value)
	}
	for _, required := range []string{"hostname", "username"} {
		if !v.InConfig(required) {
			return fmt.Errorf("%s is required", required)
		}
	}
	return nil
}

func envSet(key string) bool {
	name := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	_, ok := lookupEnv(name)
	return ok
}
