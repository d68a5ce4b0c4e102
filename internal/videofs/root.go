//go:build linux
// +build linux

package videofs

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Root is the filesystem root: one directory entry per known terminal id.
type Root struct {
	fs.Inode
	Provider Provider
}

var _ fs.NodeLookuper = (*Root)(nil)
var _ fs.NodeReaddirer = (*Root)(nil)

func (r *Root) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	for _, tid := range r.Provider.TerminalIDs() {
		if tid != name {
			continue
		}
		node := &deviceDirNode{root: r, terminalID: tid}
		ch := r.NewInode(ctx, node, fs.StableAttr{
			Mode: fuse.S_IFDIR,
			Ino:  inoFromString("videofs:device:" + tid),
		})
		out.Mode = fuse.S_IFDIR | 0555
		out.SetEntryTimeout(time.Second)
		out.SetAttrTimeout(time.Second)
		return ch, 0
	}
	return nil, syscall.ENOENT
}

func (r *Root) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	ids := r.Provider.TerminalIDs()
	entries := make([]fuse.DirEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, fuse.DirEntry{Name: id, Mode: fuse.S_IFDIR})
	}
	return fs.NewListDirStream(entries), 0
}

type deviceDirNode struct {
	fs.Inode
	root       *Root
	terminalID string
}

var _ fs.NodeLookuper = (*deviceDirNode)(nil)
var _ fs.NodeReaddirer = (*deviceDirNode)(nil)

func (d *deviceDirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	for _, dl := range d.root.Provider.Downloads(d.terminalID) {
		if dl.Name != name {
			continue
		}
		node := &downloadFileNode{root: d.root, terminalID: d.terminalID, download: dl}
		ch := d.NewInode(ctx, node, fs.StableAttr{
			Mode: fuse.S_IFREG,
			Ino:  inoFromString("videofs:file:" + d.terminalID + ":" + name),
		})
		out.Mode = fuse.S_IFREG | 0444
		out.Size = uint64(dl.Size)
		out.SetEntryTimeout(time.Second)
		out.SetAttrTimeout(time.Second)
		return ch, 0
	}
	return nil, syscall.ENOENT
}

func (d *deviceDirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	downloads := d.root.Provider.Downloads(d.terminalID)
	entries := make([]fuse.DirEntry, 0, len(downloads))
	for _, dl := range downloads {
		entries = append(entries, fuse.DirEntry{Name: dl.Name, Mode: fuse.S_IFREG})
	}
	return fs.NewListDirStream(entries), 0
}

type downloadFileNode struct {
	fs.Inode
	root       *Root
	terminalID string
	download   Download
}

var _ fs.NodeGetattrer = (*downloadFileNode)(nil)
var _ fs.NodeReader = (*downloadFileNode)(nil)

func (f *downloadFileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFREG | 0444
	out.Size = uint64(f.download.Size)
	return 0
}

func (f *downloadFileNode) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, ok := f.root.Provider.ReadDownload(f.terminalID, f.download.Name)
	if !ok {
		return fuse.ReadResultData(dest[:0]), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	if off >= int64(len(data)) {
		return fuse.ReadResultData(dest[:0]), 0
	}
	n := copy(dest, data[off:end])
	return fuse.ReadResultData(dest[:n]), 0
}
