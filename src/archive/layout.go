package archive

import (
	"path/filepath"

	"github.com/camvigil/camvigil/src/consts"
)

// Dir is the directory under an archive root holding segments and the store.
func Dir(root string) string {
	return filepath.Join(root, consts.ArchiveDirName)
}

// StorePath is the metadata database of an archive root.
func StorePath(root string) string {
	return filepath.Join(Dir(root), consts.StoreFileName)
}
