package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zanbei/agentx/config"
	"github.com/zanbei/agentx/errors"
)

type fileReadArgs struct {
	Path string `json:"path" jsonschema:"required"`
}

// ReadFileTool implements the tool for reading a file.
type ReadFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ReadFileTool) Name() string { return "file_read" }
func (t *ReadFileTool) Description() string {
	return "Reads the entire content of a file. Args: path (string)."
}
func (t *ReadFileTool) InputSchema() map[string]any { return SchemaFor[fileReadArgs]() }

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	a, err := decodeArgs[fileReadArgs](args)
	if err != nil || a.Path == "" {
		return "", errors.New("missing or invalid 'path' argument")
	}
	if err := checkHidden(a.Path, t.fsAccess); err != nil {
		return "", err
	}

	content, err := os.ReadFile(a.Path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", a.Path)
	}
	return string(content), nil
}

type fileWriteArgs struct {
	Path    string `json:"path" jsonschema:"required"`
	Content string `json:"content" jsonschema:"required"`
}

// WriteFileTool implements the tool for writing to a file.
type WriteFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *WriteFileTool) Name() string { return "file_write" }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, replacing it entirely. Args: path (string), content (string)."
}
func (t *WriteFileTool) InputSchema() map[string]any { return SchemaFor[fileWriteArgs]() }

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	a, err := decodeArgs[fileWriteArgs](args)
	if err != nil || a.Path == "" {
		return "", errors.New("missing or invalid 'path' or 'content' arguments")
	}
	if err := checkWritable(a.Path, t.fsAccess); err != nil {
		return "", err
	}

	if dir := filepath.Dir(a.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", errors.Wrapf(err, "failed to create directory for '%s'", a.Path)
		}
	}
	if err := os.WriteFile(a.Path, []byte(a.Content), 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write to file '%s'", a.Path)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(a.Content), a.Path), nil
}

type editorArgs struct {
	Command    string `json:"command" jsonschema:"required,enum=view,enum=str_replace,enum=insert"`
	Path       string `json:"path" jsonschema:"required"`
	OldStr     string `json:"old_str,omitempty" jsonschema_description:"Exact text to replace (str_replace)"`
	NewStr     string `json:"new_str,omitempty" jsonschema_description:"Replacement or inserted text"`
	InsertLine int    `json:"insert_line,omitempty" jsonschema_description:"Insert after this 1-based line, 0 inserts at the top"`
}

// EditorTool performs line-level edits on a file.
type EditorTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *EditorTool) Name() string { return "editor" }
func (t *EditorTool) Description() string {
	return "File editing operations. Commands: view (numbered lines), str_replace (old_str must occur once), insert (new_str after insert_line)."
}
func (t *EditorTool) InputSchema() map[string]any { return SchemaFor[editorArgs]() }

func (t *EditorTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	a, err := decodeArgs[editorArgs](args)
	if err != nil || a.Path == "" {
		return "", errors.New("missing or invalid 'path' argument")
	}
	if err := checkHidden(a.Path, t.fsAccess); err != nil {
		return "", err
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", a.Path)
	}
	content := string(data)

	switch a.Command {
	case "view":
		lines := strings.Split(content, "\n")
		var sb strings.Builder
		for i, l := range lines {
			fmt.Fprintf(&sb, "%6d\t%s\n", i+1, l)
		}
		return sb.String(), nil
	case "str_replace":
		if n := strings.Count(content, a.OldStr); a.OldStr == "" || n != 1 {
			return "", errors.New("old_str must occur exactly once in '%s', found %d", a.Path, n)
		}
		content = strings.Replace(content, a.OldStr, a.NewStr, 1)
	case "insert":
		lines := strings.Split(content, "\n")
		if a.InsertLine < 0 || a.InsertLine > len(lines) {
			return "", errors.New("insert_line %d out of range [0, %d]", a.InsertLine, len(lines))
		}
		lines = append(lines[:a.InsertLine], append([]string{a.NewStr}, lines[a.InsertLine:]...)...)
		content = strings.Join(lines, "\n")
	default:
		return "", errors.New("unknown editor command %q", a.Command)
	}

	if err := checkWritable(a.Path, t.fsAccess); err != nil {
		return "", err
	}
	if err := os.WriteFile(a.Path, []byte(content), 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write to file '%s'", a.Path)
	}
	return fmt.Sprintf("Edited %s (%s)", a.Path, a.Command), nil
}

func checkHidden(path string, fsAccess *config.FilesystemAccess) error {
	hidden, err := isPathRestricted(path, fsAccess.Hidden)
	if err != nil {
		return err
	}
	if hidden {
		return errors.New("access denied: path '%s' is hidden", path)
	}
	return nil
}

func checkWritable(path string, fsAccess *config.FilesystemAccess) error {
	if err := checkHidden(path, fsAccess); err != nil {
		return err
	}
	readOnly, err := isPathRestricted(path, fsAccess.ReadOnly)
	if err != nil {
		return err
	}
	if readOnly {
		return errors.New("access denied: path '%s' is read-only", path)
	}
	return nil
}
