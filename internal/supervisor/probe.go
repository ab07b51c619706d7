package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// NetProbe finds port owners through the host's socket table.
type NetProbe struct{}

func (NetProbe) ListeningPIDs(ctx context.Context, port int) ([]int32, error) {
	conns, err := psnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, fmt.Errorf("failed to list tcp sockets: %w", err)
	}

	seen := make(map[int32]bool)
	var pids []int32
	for _, conn := range conns {
		if conn.Status != "LISTEN" || conn.Laddr.Port != uint32(port) || conn.Pid <= 0 {
			continue
		}
		if seen[conn.Pid] {
			continue
		}
		seen[conn.Pid] = true
		pids = append(pids, conn.Pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	slog.Debug("Port owner probe", "port", port, "listeners", len(pids))
	return pids, nil
}

// describeProcess returns the command line of pid for log lines, or its name
// when the command line is not readable.
func describeProcess(ctx context.Context, pid int32) string {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ""
	}
	if cmdline, err := p.CmdlineWithContext(ctx); err == nil && cmdline != "" {
		return cmdline
	}
	name, _ := p.NameWithContext(ctx)
	return name
}
