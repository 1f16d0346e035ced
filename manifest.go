package intercept

import (
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/gjson"
)

// ErrInvalidManifest is returned when a protocol manifest is not valid JSON
// or lists a type under both directions.
var ErrInvalidManifest = errors.New("invalid protocol manifest")

// Manifest paths queried with gjson.
const (
	manifestServerbound = "messages.serverbound"
	manifestClientbound = "messages.clientbound"
)

// ManifestClassifier returns a Classifier built from a protocol manifest, a
// JSON document listing message type names by direction:
//
//	{
//	    "protocol": "lobby/3",
//	    "messages": {
//	        "serverbound": ["LoginMessage", "ChatMessage"],
//	        "clientbound": ["ChatBroadcast", "Kick"]
//	    }
//	}
//
// Entries match either the declared type name ("LoginMessage") or the
// package-qualified form ("*proto.LoginMessage"). Types not listed are not
// recognized.
func ManifestClassifier(raw []byte) (Classifier, error) {
	if !gjson.ValidBytes(raw) {
		return nil, ErrInvalidManifest
	}

	m := manifest{dirs: make(map[string]Direction)}
	for _, sec := range []struct {
		path string
		dir  Direction
	}{
		{manifestServerbound, Serverbound},
		{manifestClientbound, Clientbound},
	} {
		r := gjson.GetBytes(raw, sec.path)
		if !r.Exists() {
			continue
		}
		if !r.IsArray() {
			return nil, fmt.Errorf("%w: %s must be an array", ErrInvalidManifest, sec.path)
		}
		for _, name := range r.Array() {
			if name.Type != gjson.String || name.String() == "" {
				return nil, fmt.Errorf("%w: %s holds a non-string entry", ErrInvalidManifest, sec.path)
			}
			if prev, dup := m.dirs[name.String()]; dup && prev != sec.dir {
				return nil, fmt.Errorf("%w: %s listed as both directions", ErrInvalidManifest, name.String())
			}
			m.dirs[name.String()] = sec.dir
		}
	}
	return m, nil
}

// LoadManifest reads a protocol manifest from path.
func LoadManifest(path string) (Classifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	c, err := ManifestClassifier(raw)
	if err != nil {
		return nil, fmt.Errorf("load manifest %s: %w", path, err)
	}
	return c, nil
}

type manifest struct {
	dirs map[string]Direction
}

func (m manifest) Classify(t MessageType) (Direction, bool) {
	if t.IsZero() {
		return 0, false
	}
	if d, ok := m.dirs[t.String()]; ok {
		return d, true
	}
	d, ok := m.dirs[t.Name()]
	return d, ok
}
