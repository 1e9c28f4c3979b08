package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/toolforge/mcpcore/internal/provider"
	"github.com/toolforge/mcpcore/internal/safe"
	"github.com/toolforge/mcpcore/internal/types"
)

// echoInput is reflected into the "echo" tool's parameter schema via
// invopop/jsonschema, the same reflect-a-Go-type approach the teacher uses
// for its own tool definitions (see provider.GenerateParameters).
type echoInput struct {
	Message string `json:"message" jsonschema:"required,description=Message to echo back"`
}

// readFileInput backs the "read_file" worked example: a read-permission
// internal tool that serves a file's contents through safe.ReadFile's
// symlink-rejecting, size-capped path (the security gate's own path
// sandbox and blocked-extension checks run ahead of this handler, so the
// two layers of defense compose rather than duplicate each other).
type readFileInput struct {
	Path string `json:"path" jsonschema:"required,description=Path of the file to read"`
}

// copyFileInput backs the "copy_file" worked example, a write-permission
// sibling to "read_file" built on safe.CopyFile's same symlink-rejecting,
// size-capped validation.
type copyFileInput struct {
	Path        string `json:"path" jsonschema:"required,description=Path of the file to copy"`
	Destination string `json:"destination" jsonschema:"required,description=Destination path for the copy"`
}

// builtinTools returns the worked-example internal tools named in names.
// Unknown names are silently skipped; this is example wiring for tests
// and demos, not a general internal-tool registry (see SPEC_FULL.md's
// open-question resolution for why no filesystem/git tools ship here).
func builtinTools(names []string) []provider.InternalTool {
	echoParams, err := provider.GenerateParameters(echoInput{})
	if err != nil {
		echoParams = []types.ToolParameter{{Name: "message", Type: types.ParamString, Required: true}}
	}
	readFileParams, err := provider.GenerateParameters(readFileInput{})
	if err != nil {
		readFileParams = []types.ToolParameter{{Name: "path", Type: types.ParamString, Required: true}}
	}
	copyFileParams, err := provider.GenerateParameters(copyFileInput{})
	if err != nil {
		copyFileParams = []types.ToolParameter{
			{Name: "path", Type: types.ParamString, Required: true},
			{Name: "destination", Type: types.ParamString, Required: true},
		}
	}

	available := map[string]provider.InternalTool{
		"echo": {
			Tool: types.Tool{
				Name:            "echo",
				Description:     "Echo back the given message.",
				Parameters:      echoParams,
				PermissionLevel: types.PermissionRead,
			},
			Handler: func(ctx context.Context, arguments map[string]any) types.ToolResult {
				msg, _ := arguments["message"].(string)
				return types.SuccessResult(msg)
			},
		},
		"time": {
			Tool: types.Tool{
				Name:            "time",
				Description:     "Return the current UTC time in RFC3339 form.",
				Parameters:      nil,
				PermissionLevel: types.PermissionRead,
			},
			Handler: func(ctx context.Context, arguments map[string]any) types.ToolResult {
				return types.SuccessResult(fmt.Sprintf("%s", time.Now().UTC().Format(time.RFC3339)))
			},
		},
		"read_file": {
			Tool: types.Tool{
				Name:            "read_file",
				Description:     "Read a file's contents, rejecting symlinks and oversized files.",
				Parameters:      readFileParams,
				PermissionLevel: types.PermissionRead,
			},
			Handler: func(ctx context.Context, arguments map[string]any) types.ToolResult {
				path, _ := arguments["path"].(string)
				content, err := safe.ReadFile(path, nil)
				if err != nil {
					return types.ErrorResult(fmt.Sprintf("read_file: %s", err))
				}
				return types.SuccessResult(string(content))
			},
		},
		"copy_file": {
			Tool: types.Tool{
				Name:            "copy_file",
				Description:     "Copy a file to a new path, rejecting symlink sources and oversized files.",
				Parameters:      copyFileParams,
				PermissionLevel: types.PermissionWrite,
			},
			Handler: func(ctx context.Context, arguments map[string]any) types.ToolResult {
				path, _ := arguments["path"].(string)
				dest, _ := arguments["destination"].(string)
				if err := safe.CopyFile(path, dest, nil); err != nil {
					return types.ErrorResult(fmt.Sprintf("copy_file: %s", err))
				}
				return types.SuccessResult(fmt.Sprintf("copied %s to %s", path, dest))
			},
		},
	}

	out := make([]provider.InternalTool, 0, len(names))
	for _, n := range names {
		if t, ok := available[n]; ok {
			out = append(out, t)
		}
	}
	return out
}
