package strategy

import (
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// DefaultModelVersion is stamped on audit records for contenders that
// never registered an explicit version.
const DefaultModelVersion = "1.0.0"

// Registry tracks the semantic version of each deployed model. Versions
// feed the audit trail's model_version field and the rollback
// provenance published with manual-approval commands.
type Registry struct {
	mu       sync.RWMutex
	versions map[string]*semver.Version
}

// NewRegistry creates an empty model version registry.
func NewRegistry() *Registry {
	return &Registry{versions: make(map[string]*semver.Version)}
}

// Register records the version for a model. Loose version strings like
// "1.2" are accepted and padded to a full semantic version.
func (r *Registry) Register(modelID, version string) error {
	v, err := parseVersion(version)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[modelID] = v
	return nil
}

// Version returns the registered version string for a model, or
// DefaultModelVersion when none was registered.
func (r *Registry) Version(modelID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if v, ok := r.versions[modelID]; ok {
		return v.String()
	}
	return DefaultModelVersion
}

// IsNewer reports whether candidate is strictly newer than the
// registered version for the model. An unparseable candidate is never
// newer.
func (r *Registry) IsNewer(modelID, candidate string) bool {
	cv, err := parseVersion(candidate)
	if err != nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	current, ok := r.versions[modelID]
	if !ok {
		current = semver.MustParse(DefaultModelVersion)
	}
	return cv.GreaterThan(current)
}

// Compare compares two version strings.
// Returns: -1 if a < b, 0 if a == b, 1 if a > b.
func Compare(a, b string) (int, error) {
	va, err := parseVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := parseVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

func parseVersion(version string) (*semver.Version, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		// Pad short version strings like "1.2"
		v, err = semver.NewVersion(version + ".0")
		if err != nil {
			return nil, fmt.Errorf("invalid model version: %s", version)
		}
	}
	return v, nil
}
