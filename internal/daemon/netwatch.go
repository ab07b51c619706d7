package daemon

import (
	"log/slog"
	"time"
)

// DefaultHostRefresh is how often the daemon re-checks the host name and
// LAN address the companion is reachable on.
const DefaultHostRefresh = 10 * time.Second

// watchHost polls the network and updates the reported HostInfo when the
// machine moves to another network or gets renamed.
func (a *App) watchHost(last HostInfo) {
	ticker := time.NewTicker(a.hostRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			current := a.hosts.Resolve(a.ctx, a.cfg.Companion.Port)
			if a.ctx.Err() != nil {
				return
			}
			if current == last {
				continue
			}

			slog.Info("Network change detected, companion reachable at new address",
				"bookmark", current.BookmarkURL,
				"ip", current.IPURL)
			a.mu.Lock()
			a.hostInfo = current
			a.mu.Unlock()
			a.journalDaemon("host_changed", current.IPURL)
			last = current
		}
	}
}
