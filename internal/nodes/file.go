package nodes

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fluxus-dev/fluxus/pkg/catalog"
	"github.com/fluxus-dev/fluxus/pkg/schema"
)

func fileReadExec(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
	path, err := stringParam(params, "path")
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "file not found: %s", path).WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrCodePermanentIO, "read %s: %s", path, err.Error()).WithCause(err)
	}
	return map[string]any{
		"content": string(data),
		"size":    len(data),
	}, nil
}

func fileWriteExec(ctx context.Context, params map[string]any, progress catalog.ProgressFunc) (map[string]any, error) {
	path, err := stringParam(params, "path")
	if err != nil {
		return nil, err
	}
	content, err := stringParam(params, "content")
	if err != nil {
		return nil, err
	}
	appendMode, err := boolParam(params, "append", false)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodePermanentIO, "create %s: %s", dir, err.Error()).WithCause(err)
		}
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if appendMode {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodePermanentIO, "open %s: %s", path, err.Error()).WithCause(err)
	}
	defer f.Close()

	n, err := f.WriteString(content)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodePermanentIO, "write %s: %s", path, err.Error()).WithCause(err)
	}
	return map[string]any{
		"path":    path,
		"written": n,
	}, nil
}
