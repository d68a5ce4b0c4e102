//go:build !linux
// +build !linux

package videofs

import (
	"context"
	"fmt"
)

// Mount is unavailable on non-Linux builds because videofs depends on
// go-fuse's Linux FUSE binding.
func Mount(ctx context.Context, mountPoint string, provider Provider) (func(), error) {
	return nil, fmt.Errorf("videofs: mount is only supported on linux builds")
}
