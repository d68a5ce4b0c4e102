package session

import "fmt"

// DownloadRef identifies one in-progress or completed stored-video
// download buffer.
type DownloadRef struct {
	Channel   uint8
	StartTime string
	Name      string
	Size      int64
}

// Downloads returns a snapshot of every tracked download buffer.
func (s *Session) Downloads() []DownloadRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DownloadRef, 0, len(s.downloadBuffers))
	for key, chain := range s.downloadBuffers {
		var size int64
		for _, c := range chain.Chunks {
			size += int64(len(c))
		}
		out = append(out, DownloadRef{
			Channel:   key.channel,
			StartTime: key.startTime,
			Name:      downloadFileName(key.channel, key.startTime),
			Size:      size,
		})
	}
	return out
}

// DownloadBytes concatenates every chunk received so far for name (see
// Downloads for the naming scheme), in arrival order. The second return
// is false if no such download is tracked.
func (s *Session) DownloadBytes(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, chain := range s.downloadBuffers {
		if downloadFileName(key.channel, key.startTime) != name {
			continue
		}
		var total int
		for _, c := range chain.Chunks {
			total += len(c)
		}
		out := make([]byte, 0, total)
		for _, c := range chain.Chunks {
			out = append(out, c...)
		}
		return out, true
	}
	return nil, false
}

func downloadFileName(channel uint8, startTime string) string {
	return fmt.Sprintf("ch%d-%s.h264", channel, startTime)
}
