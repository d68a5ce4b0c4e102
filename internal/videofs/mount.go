//go:build linux
// +build linux

package videofs

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Mount mounts the download filesystem at mountPoint, serving from
// provider. It does not block; call the returned unmount func (or cancel
// ctx) to tear it down.
func Mount(ctx context.Context, mountPoint string, provider Provider) (unmount func(), err error) {
	root := &Root{Provider: provider}
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Debug:     false,
			FsName:    "jt808d-videofs",
			Name:      "jt808d",
			ReadOnly:  true,
		},
	}
	server, err := fs.Mount(mountPoint, root, opts)
	if err != nil {
		return nil, err
	}

	stopCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM)
	go func() {
		<-stopCtx.Done()
		log.Printf("videofs: unmounting %s", mountPoint)
		_ = server.Unmount()
	}()

	return func() {
		stop()
		_ = server.Unmount()
	}, nil
}
