package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/taployalty/tapagent/internal/pathutil"
)

// ResolveDataRootPath resolves the configured data root. If empty, it falls
// back to ~/.tapagent/data.
func ResolveDataRootPath(dataPath string) (string, error) {
	if trimmed := strings.TrimSpace(dataPath); trimmed != "" {
		return pathutil.Expand(trimmed)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tapagent", "data"), nil
}

// GetLockPath returns the instance lock file path for a data root.
func GetLockPath(dataPath string) (string, error) {
	root, err := ResolveDataRootPath(dataPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "store.lock"), nil
}

// EnrollmentsCollection returns the per-merchant enrollment collection path.
func EnrollmentsCollection(merchantID string) string {
	return filepath.Join("merchants", merchantID, "agentsenrolled")
}

// LogsCollection returns the per-merchant run log collection path.
func LogsCollection(merchantID string) string {
	return filepath.Join("merchants", merchantID, "agentlogs")
}

// InboxCollection returns the per-merchant inbox collection path.
func InboxCollection(merchantID string) string {
	return filepath.Join("merchants", merchantID, "agentinbox")
}

// validateSegment rejects ids and collection elements that would escape the
// data root when joined into a path.
func validateSegment(segment string) error {
	if segment == "" {
		return fmt.Errorf("empty path segment")
	}
	if segment == "." || segment == ".." {
		return fmt.Errorf("invalid path segment %q", segment)
	}
	if strings.ContainsAny(segment, `/\`) {
		return fmt.Errorf("path segment %q contains a separator", segment)
	}
	return nil
}

// ValidateCollection checks every element of a collection path.
func ValidateCollection(collection string) error {
	if strings.TrimSpace(collection) == "" {
		return fmt.Errorf("empty collection")
	}
	for _, part := range strings.Split(filepath.ToSlash(collection), "/") {
		if err := validateSegment(part); err != nil {
			return fmt.Errorf("collection %q: %w", collection, err)
		}
	}
	return nil
}

// ValidateDocID checks a document id.
func ValidateDocID(id string) error {
	if err := validateSegment(id); err != nil {
		return fmt.Errorf("document id: %w", err)
	}
	return nil
}
