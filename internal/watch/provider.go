package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	odraserrors "github.com/laserpointlabs/ODRAS-sub000/internal/errors"
	"github.com/laserpointlabs/ODRAS-sub000/internal/store"
	"github.com/laserpointlabs/ODRAS-sub000/internal/worker"
)

// maxProviderFileSize bounds how much of a dropped file is indexed.
const maxProviderFileSize = 4 << 20 // 4MB

// DirProvider resolves file entities against the drop directory. Other
// entity types are not served by this provider.
type DirProvider struct {
	dir string
}

// NewDirProvider creates a provider rooted at dir.
func NewDirProvider(dir string) *DirProvider {
	return &DirProvider{dir: dir}
}

var _ worker.ContentProvider = (*DirProvider)(nil)

// Fetch reads a dropped file's text. Missing files are not-found content
// errors (the worker skips them); binary files are decode errors.
func (p *DirProvider) Fetch(_ context.Context, entityType store.EntityType, entityID string) (*worker.Content, error) {
	if entityType != store.EntityTypeFile {
		return nil, odraserrors.New(odraserrors.ErrCodeEntityNotFound,
			fmt.Sprintf("directory provider does not serve entity type %q", entityType), nil)
	}

	rel := filepath.Clean(entityID)
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, odraserrors.ValidationError(
			fmt.Sprintf("entity id %q escapes the drop directory", entityID), nil)
	}

	path := filepath.Join(p.dir, rel)
	info, err := os.Stat(path)
	if err != nil {
		return nil, odraserrors.New(odraserrors.ErrCodeEntityNotFound,
			fmt.Sprintf("dropped file %q not found", entityID), err)
	}
	if info.Size() > maxProviderFileSize {
		return nil, odraserrors.ContentError(
			fmt.Sprintf("dropped file %q exceeds size limit", entityID), nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, odraserrors.ContentError(
			fmt.Sprintf("failed to read dropped file %q", entityID), err)
	}
	if !utf8.Valid(data) {
		return nil, odraserrors.ContentError(
			fmt.Sprintf("dropped file %q is not valid text", entityID), nil)
	}

	return &worker.Content{
		Summary: string(data),
		URI:     path,
		Domain:  "files",
		Metadata: map[string]string{
			"filename": filepath.Base(entityID),
		},
	}, nil
}
