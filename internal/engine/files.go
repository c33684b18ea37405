package engine

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
)

// maxListDepth bounds directory walks. Listings feed a code-editor sidebar;
// anything deeper is noise and walking node_modules would dominate the output.
const maxListDepth = 4

var excludedDirs = []string{"node_modules", ".git", ".hg", ".svn"}

type EntryType string

const (
	EntryTypeFile      EntryType = "file"
	EntryTypeDirectory EntryType = "directory"
)

// FileEntry is one node of a listed directory tree. Children is only set for
// directories and keeps discovery order.
type FileEntry struct {
	Name     string       `json:"name"`
	Path     string       `json:"path"`
	Type     EntryType    `json:"type"`
	Children []*FileEntry `json:"children,omitempty"`
}

// WriteFile uploads content as a single-entry tar archive into the parent
// directory of filePath, overwriting any existing file. Relative paths are
// rooted at the workdir.
func (e *Engine) WriteFile(ctx context.Context, containerID, filePath string, content []byte) error {
	resolved, err := resolvePath(filePath)
	if err != nil {
		return err
	}

	dir := path.Dir(resolved)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if err := tw.WriteHeader(&tar.Header{
		Name:    path.Base(resolved),
		Mode:    0o644,
		Size:    int64(len(content)),
		ModTime: time.Now(),
	}); err != nil {
		return fmt.Errorf("tar header write failed: %w", err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("tar content write failed: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("tar close failed: %w", err)
	}

	if err := e.client.CopyToContainer(ctx, containerID, dir, &buf, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("file upload to %s failed: %w", resolved, err)
	}

	return nil
}

// ReadFile retrieves the file's bytes from the running container. Directories
// are rejected.
func (e *Engine) ReadFile(ctx context.Context, containerID, filePath string) ([]byte, error) {
	resolved, err := resolvePath(filePath)
	if err != nil {
		return nil, err
	}

	rc, stat, err := e.client.CopyFromContainer(ctx, containerID, resolved)
	if err != nil {
		return nil, fmt.Errorf("file download from %s failed: %w", resolved, err)
	}
	defer rc.Close()

	if stat.Mode.IsDir() {
		return nil, fmt.Errorf("%s is a directory", resolved)
	}

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tar read failed: %w", err)
		}

		if hdr.Typeflag == tar.TypeReg {
			content, err := io.ReadAll(tr)
			if err != nil {
				return nil, fmt.Errorf("tar file read failed: %w", err)
			}

			return content, nil
		}
	}

	return nil, fmt.Errorf("file not found in container: %s", resolved)
}

// ListDir walks dir inside the container and returns the tree. The walk is
// depth-bounded and prunes node_modules and version-control metadata.
func (e *Engine) ListDir(ctx context.Context, containerID, dir string) (*FileEntry, error) {
	resolved, err := resolvePath(dir)
	if err != nil {
		return nil, err
	}

	result, err := e.Exec(ctx, containerID, treeListCommand(resolved))
	if err != nil {
		return nil, fmt.Errorf("directory walk of %s failed: %w", resolved, err)
	}

	return parseTree(resolved, result.Output), nil
}

// FindCommand returns the raw bounded listing command for dir, with the same
// depth bound and exclusions as ListDir. The file-sync sub-protocol runs it
// through the executor and forwards the newline-delimited output verbatim.
func FindCommand(dir string) (string, error) {
	resolved, err := resolvePath(dir)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("find %s -maxdepth %d %s -prune -o -print", shellQuote(resolved), maxListDepth, pruneExpr()), nil
}

// treeListCommand marks directories with a trailing slash so the parser can
// type entries without GNU-only find extensions.
func treeListCommand(dir string) string {
	quoted := shellQuote(dir)

	return fmt.Sprintf(
		"find %s -maxdepth %d %s -prune -o -type d -print | sed 's:$:/:'; find %s -maxdepth %d %s -prune -o -type d -o -print",
		quoted, maxListDepth, pruneExpr(),
		quoted, maxListDepth, pruneExpr(),
	)
}

func pruneExpr() string {
	names := make([]string, len(excludedDirs))
	for i, name := range excludedDirs {
		names[i] = "-name " + shellQuote(name)
	}

	return `\( ` + strings.Join(names, " -o ") + ` \)`
}

func parseTree(root, output string) *FileEntry {
	rootEntry := &FileEntry{
		Name: path.Base(root),
		Path: root,
		Type: EntryTypeDirectory,
	}

	nodes := map[string]*FileEntry{root: rootEntry}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		entryType := EntryTypeFile
		if strings.HasSuffix(line, "/") {
			entryType = EntryTypeDirectory
			line = strings.TrimSuffix(line, "/")
		}

		clean := path.Clean(line)
		if clean == root {
			continue
		}
		if _, ok := nodes[clean]; ok {
			continue
		}

		parent, ok := nodes[path.Dir(clean)]
		if !ok {
			// Orphaned by the depth bound or a pruned ancestor.
			continue
		}

		entry := &FileEntry{
			Name: path.Base(clean),
			Path: clean,
			Type: entryType,
		}
		parent.Children = append(parent.Children, entry)

		if entryType == EntryTypeDirectory {
			nodes[clean] = entry
		}
	}

	return rootEntry
}

// resolvePath roots relative paths at the workdir and refuses escapes above
// it, so a sandbox can only reach its own filesystem subtree.
func resolvePath(p string) (string, error) {
	raw := strings.TrimSpace(p)
	if raw == "" {
		return "", fmt.Errorf("path is required")
	}

	var candidate string
	if strings.HasPrefix(raw, "/") {
		candidate = path.Clean(raw)
	} else {
		candidate = path.Clean(path.Join(WorkdirPath, raw))
	}

	if candidate != WorkdirPath && !strings.HasPrefix(candidate, WorkdirPath+"/") {
		return "", fmt.Errorf("path %s is outside the sandbox workdir", p)
	}

	return candidate, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
