//go:build !linux || !giouring

package blockdev

import (
	"fmt"

	kcore "github.com/behrlich/go-kcore"
)

// OpenUring is available on Linux when built with -tags giouring
func OpenUring(path string, numBlocks int64, blockSize int) (kcore.BlockDevice, error) {
	return nil, fmt.Errorf("giouring not enabled; build with -tags giouring")
}
