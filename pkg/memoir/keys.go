package memoir

import (
	"path/filepath"
	"strings"

	stderrors "github.com/memoirhq/memoir/pkg/errors"
)

// validateSegment rejects the empty string, traversal segments, and any
// segment carrying a path separator of its own — a dotted key's
// segments must map onto exactly one path component each.
func validateSegment(seg string) error {
	if seg == "" {
		return stderrors.New(stderrors.CodeMemoirInvalidKey, "key segment cannot be empty")
	}
	if seg == ".." || seg == "." {
		return stderrors.New(stderrors.CodeMemoirInvalidKey, "key segment cannot be '.' or '..'", stderrors.Field("segment", seg))
	}
	if strings.ContainsAny(seg, "/\\") {
		return stderrors.New(stderrors.CodeMemoirInvalidKey, "key segment cannot contain a path separator", stderrors.Field("segment", seg))
	}
	return nil
}

// segments splits a dotted key into its path segments, validating each.
func segments(key string) ([]string, error) {
	if key == "" {
		return nil, stderrors.New(stderrors.CodeMemoirInvalidKey, "key cannot be empty")
	}
	parts := strings.Split(key, ".")
	for _, p := range parts {
		if err := validateSegment(p); err != nil {
			return nil, stderrors.With(err, stderrors.FieldKey(key))
		}
	}
	return parts, nil
}

// relPathForKey maps a dotted key onto a "/"-joined relative path with
// a ".md" suffix on the final segment: "a.b.c" -> "a/b/c.md".
func relPathForKey(key string) (string, error) {
	parts, err := segments(key)
	if err != nil {
		return "", err
	}
	parts[len(parts)-1] = parts[len(parts)-1] + ".md"
	return filepath.ToSlash(filepath.Join(parts...)), nil
}

// resolvePath joins root with key's relative path and asserts the
// result stays under root, rejecting any key that would escape it.
func resolvePath(root, key string) (string, error) {
	rel, err := relPathForKey(key)
	if err != nil {
		return "", err
	}
	abs := filepath.Join(root, filepath.FromSlash(rel))
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", stderrors.Wrap(err, stderrors.CodeMemoirPathEscape, "failed to resolve memory root")
	}
	absClean, err := filepath.Abs(abs)
	if err != nil {
		return "", stderrors.Wrap(err, stderrors.CodeMemoirPathEscape, "failed to resolve key path", stderrors.FieldKey(key))
	}
	if absClean != rootAbs && !strings.HasPrefix(absClean, rootAbs+string(filepath.Separator)) {
		return "", stderrors.New(stderrors.CodeMemoirPathEscape, "key resolves outside the memory root", stderrors.FieldKey(key))
	}
	return absClean, nil
}

// keyForRelPath is the inverse of relPathForKey: it turns a collection
// path such as "a/b/c.md" back into the dotted key "a.b.c".
func keyForRelPath(relPath string) string {
	trimmed := strings.TrimSuffix(filepath.ToSlash(relPath), ".md")
	return strings.ReplaceAll(trimmed, "/", ".")
}

func depthOf(key string) int {
	return strings.Count(key, ".") + 1
}
