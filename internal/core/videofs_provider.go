package core

import (
	"github.com/fleetcam/jt808d/internal/videofs"
)

// Downloads lists every tracked download buffer for terminalID, for the
// videofs.Provider interface.
func (e *Engine) Downloads(terminalID string) []videofs.Download {
	sess, err := e.firstSession(terminalID)
	if err != nil {
		return nil
	}
	refs := sess.Downloads()
	out := make([]videofs.Download, 0, len(refs))
	for _, r := range refs {
		out = append(out, videofs.Download{Channel: r.Channel, StartTime: r.StartTime, Name: r.Name, Size: r.Size})
	}
	return out
}

// TerminalIDs satisfies videofs.Provider by delegating to the registry.
func (e *Engine) TerminalIDs() []string {
	return e.Registry.TerminalIDs()
}

// ReadDownloadByName satisfies videofs.Provider: read a download by its
// display name rather than by the opaque handle RequestDownload returns.
func (e *Engine) ReadDownloadByName(terminalID, name string) ([]byte, bool) {
	sess, err := e.firstSession(terminalID)
	if err != nil {
		return nil, false
	}
	return sess.DownloadBytes(name)
}

var _ videofs.Provider = (*providerAdapter)(nil)

// providerAdapter adapts Engine's ReadDownloadByName to the videofs.Provider
// method name (ReadDownload), since Engine's own ReadDownload is keyed by
// opaque handle rather than (terminalID, name).
type providerAdapter struct{ e *Engine }

// AsVideoFSProvider returns a videofs.Provider backed by e.
func (e *Engine) AsVideoFSProvider() videofs.Provider { return providerAdapter{e} }

func (p providerAdapter) TerminalIDs() []string                 { return p.e.TerminalIDs() }
func (p providerAdapter) Downloads(terminalID string) []videofs.Download { return p.e.Downloads(terminalID) }
func (p providerAdapter) ReadDownload(terminalID, name string) ([]byte, bool) {
	return p.e.ReadDownloadByName(terminalID, name)
}
