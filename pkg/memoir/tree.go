package memoir

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	stderrors "github.com/memoirhq/memoir/pkg/errors"
)

// TreeEntry is one node in the flat key->node map List returns.
type TreeEntry struct {
	Type  string // "folder" or "file"
	Title string // only set for files
}

// TreeNode is one node in the nested representation ListTree returns.
type TreeNode struct {
	Key      string
	Type     string
	Title    string
	Children []TreeNode
}

// List returns every key under the memory root as a flat map, folders
// and files alike.
func (m *Memoir) List(ctx context.Context) (map[string]TreeEntry, error) {
	out := map[string]TreeEntry{}
	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if path == m.root {
			return nil
		}
		rel, relErr := filepath.Rel(m.root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			out[strings.ReplaceAll(rel, "/", ".")] = TreeEntry{Type: "folder"}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}
		key := keyForRelPath(rel)
		out[key] = TreeEntry{Type: "file", Title: m.titleFor(ctx, rel, key)}
		return nil
	})
	if err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeMemoirInvalidKey, "failed to list memories")
	}
	return out, nil
}

// ListTree returns a nested representation rooted at prefix (the whole
// tree if prefix is empty). Folders sort before files, then each group
// sorts alphabetically.
func (m *Memoir) ListTree(ctx context.Context, prefix string) ([]TreeNode, error) {
	dir, key, err := m.dirForPrefix(prefix)
	if err != nil {
		return nil, err
	}
	return m.buildTree(ctx, dir, key)
}

func (m *Memoir) buildTree(ctx context.Context, dir, prefixKey string) ([]TreeNode, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, stderrors.Wrap(err, stderrors.CodeMemoirInvalidKey, "failed to read memory directory", stderrors.FieldPath(dir))
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsDir() != b.IsDir() {
			return a.IsDir()
		}
		return a.Name() < b.Name()
	})

	var nodes []TreeNode
	for _, e := range entries {
		if e.IsDir() {
			childKey := joinKey(prefixKey, e.Name())
			children, err := m.buildTree(ctx, filepath.Join(dir, e.Name()), childKey)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, TreeNode{Key: childKey, Type: "folder", Children: children})
			continue
		}
		if !strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		childKey := joinKey(prefixKey, stem)
		rel, relErr := filepath.Rel(m.root, filepath.Join(dir, e.Name()))
		if relErr != nil {
			continue
		}
		nodes = append(nodes, TreeNode{
			Key:   childKey,
			Type:  "file",
			Title: m.titleFor(ctx, filepath.ToSlash(rel), childKey),
		})
	}
	return nodes, nil
}

// TreeForPrompt renders the tree rooted at prefix as a Markdown outline:
// "### <name>" headers for each top-level folder, with
// "- <key>: <title> [<type>]" lines beneath, indented by depth. Callers
// pattern-match on this exact shape, so it is not reformatted lightly.
func (m *Memoir) TreeForPrompt(ctx context.Context, prefix string) (string, error) {
	nodes, err := m.ListTree(ctx, prefix)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	renderPrompt(&sb, nodes, 0, true)
	return sb.String(), nil
}

func renderPrompt(sb *strings.Builder, nodes []TreeNode, depth int, topLevel bool) {
	for _, n := range nodes {
		if n.Type == "folder" {
			if topLevel {
				fmt.Fprintf(sb, "### %s\n", lastSegment(n.Key))
				renderPrompt(sb, n.Children, 0, false)
			} else {
				fmt.Fprintf(sb, "%s- %s/\n", strings.Repeat("  ", depth), lastSegment(n.Key))
				renderPrompt(sb, n.Children, depth+1, false)
			}
			continue
		}
		fmt.Fprintf(sb, "%s- %s: %s [%s]\n", strings.Repeat("  ", depth), n.Key, n.Title, n.Type)
	}
}

// MemoriesByLevel returns every file entry whose key has exactly n
// segments, restricted to prefix if given.
func (m *Memoir) MemoriesByLevel(ctx context.Context, n int, prefix string) ([]Entry, error) {
	flat, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	var out []Entry
	for key, node := range flat {
		if node.Type != "file" {
			continue
		}
		if depthOf(key) != n {
			continue
		}
		if prefix != "" && key != prefix && !strings.HasPrefix(key, prefix+".") {
			continue
		}
		entry, err := m.Get(ctx, key)
		if err != nil {
			continue
		}
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// SimpleTree is ListTree stripped down to nested maps: folders become
// nested map[string]any, files become their title string.
func (m *Memoir) SimpleTree(ctx context.Context, prefix string) (map[string]any, error) {
	nodes, err := m.ListTree(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return simplify(nodes), nil
}

func simplify(nodes []TreeNode) map[string]any {
	out := map[string]any{}
	for _, n := range nodes {
		leaf := lastSegment(n.Key)
		if n.Type == "folder" {
			out[leaf] = simplify(n.Children)
		} else {
			out[leaf] = n.Title
		}
	}
	return out
}

func (m *Memoir) titleFor(ctx context.Context, relPath, key string) string {
	doc, err := m.store.Get(ctx, m.col.ID, relPath)
	if err != nil || doc.Title == "" {
		return lastSegment(key)
	}
	return doc.Title
}

func (m *Memoir) dirForPrefix(prefix string) (dir string, key string, err error) {
	if prefix == "" {
		return m.root, "", nil
	}
	parts, segErr := segments(prefix)
	if segErr != nil {
		return "", "", segErr
	}
	return filepath.Join(m.root, filepath.Join(parts...)), prefix, nil
}

func joinKey(prefix, seg string) string {
	if prefix == "" {
		return seg
	}
	return prefix + "." + seg
}

func lastSegment(key string) string {
	parts := strings.Split(key, ".")
	return parts[len(parts)-1]
}
