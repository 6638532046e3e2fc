// Package platform answers questions about the local device: its identity,
// name, OS descriptor and reachable addresses.
package platform

import (
	"net"
	"os"
	"os/user"
	"runtime"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/gophpaste/internal/models"
)

// Provider is the device identity collaborator of the sync engine.
type Provider interface {
	DeviceID() string
	DeviceName() string
	UserName() string
	Platform() models.Platform
	LocalAddresses() []models.HostInfo
}

// Local reads identity from the running host. DeviceName overrides the
// hostname when set.
type Local struct {
	ID   string
	Name string
}

var machineIDFiles = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// DeviceID returns the configured id, the OS machine id, or the hostname.
func (l *Local) DeviceID() string {
	if l.ID != "" {
		return l.ID
	}
	for _, f := range machineIDFiles {
		if b, err := os.ReadFile(f); err == nil {
			if id := strings.TrimSpace(string(b)); id != "" {
				return id
			}
		}
	}
	h, _ := os.Hostname()
	return h
}

func (l *Local) DeviceName() string {
	if l.Name != "" {
		return l.Name
	}
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func (l *Local) UserName() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

func (l *Local) Platform() models.Platform {
	return models.Platform{
		Name:    runtime.GOOS,
		Arch:    runtime.GOARCH,
		BitMode: strconv.IntSize,
	}
}

// LocalAddresses lists the IPv4 unicast addresses of interfaces that are up
// and not loopback.
func (l *Local) LocalAddresses() []models.HostInfo {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []models.HostInfo
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		out = append(out, hostInfos(addrs)...)
	}
	return out
}

func hostInfos(addrs []net.Addr) []models.HostInfo {
	var out []models.HostInfo
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipnet.IP.To4()
		if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
			continue
		}
		ones, _ := ipnet.Mask.Size()
		out = append(out, models.HostInfo{HostAddress: ip4.String(), NetworkPrefixLength: ones})
	}
	return out
}

// Static is a fixed Provider, used by tests and by single-address setups.
type Static struct {
	ID        string
	Name      string
	User      string
	OS        models.Platform
	Addresses []models.HostInfo
}

func (s *Static) DeviceID() string                  { return s.ID }
func (s *Static) DeviceName() string                { return s.Name }
func (s *Static) UserName() string                  { return s.User }
func (s *Static) Platform() models.Platform         { return s.OS }
func (s *Static) LocalAddresses() []models.HostInfo { return s.Addresses }
