package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// HostInfo tells the user where the companion can be reached from a phone.
type HostInfo struct {
	LocalHostName string `json:"local_hostname"`
	LocalIP       string `json:"local_ip"`
	BookmarkURL   string `json:"bookmark_url"`
	IPURL         string `json:"ip_url"`
}

// hostResolver gathers the pieces of HostInfo; fields are swapped in tests.
type hostResolver struct {
	localHostName func(ctx context.Context) (string, error)
	hostname      func() (string, error)
	dialUDP       func(ctx context.Context, address string) (net.Addr, error)
}

func defaultHostResolver() hostResolver {
	return hostResolver{
		localHostName: scutilLocalHostName,
		hostname:      os.Hostname,
		dialUDP:       udpLocalAddr,
	}
}

// Resolve never fails; unknown parts fall back to the hostname and loopback.
func (r hostResolver) Resolve(ctx context.Context, port int) HostInfo {
	name := r.mdnsName(ctx)
	ip := r.lanIP(ctx)
	return HostInfo{
		LocalHostName: name,
		LocalIP:       ip,
		BookmarkURL:   fmt.Sprintf("http://%s:%d", name, port),
		IPURL:         fmt.Sprintf("http://%s:%d", ip, port),
	}
}

func (r hostResolver) mdnsName(ctx context.Context) string {
	var name string
	if r.localHostName != nil {
		if n, err := r.localHostName(ctx); err == nil {
			name = strings.TrimSpace(n)
		}
	}
	if name == "" && r.hostname != nil {
		if n, err := r.hostname(); err == nil {
			name = strings.TrimSpace(n)
		}
	}
	if name == "" {
		name = "localhost"
	}
	name = strings.TrimSuffix(name, ".")
	if !strings.HasSuffix(name, ".local") {
		name = strings.SplitN(name, ".", 2)[0] + ".local"
	}
	return name
}

// lanIP picks the source address the kernel would use for an outbound
// packet. Nothing is sent; UDP dial only selects a route.
func (r hostResolver) lanIP(ctx context.Context) string {
	if r.dialUDP != nil {
		if addr, err := r.dialUDP(ctx, "8.8.8.8:80"); err == nil {
			if udp, ok := addr.(*net.UDPAddr); ok && udp.IP != nil && !udp.IP.IsUnspecified() {
				return udp.IP.String()
			}
		}
	}
	return "127.0.0.1"
}

func scutilLocalHostName(ctx context.Context) (string, error) {
	if runtime.GOOS != "darwin" {
		return "", fmt.Errorf("scutil is only available on darwin")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "scutil", "--get", "LocalHostName").Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func udpLocalAddr(ctx context.Context, address string) (net.Addr, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr(), nil
}
