package platform

import (
	"net"
	"runtime"
	"testing"

	"github.com/dmitrijs2005/gophpaste/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestHostInfos_FiltersAndKeepsPrefix(t *testing.T) {
	addrs := []net.Addr{
		&net.IPNet{IP: net.ParseIP("192.168.1.20"), Mask: net.CIDRMask(24, 32)},
		&net.IPNet{IP: net.ParseIP("127.0.0.1"), Mask: net.CIDRMask(8, 32)},
		&net.IPNet{IP: net.ParseIP("169.254.3.4"), Mask: net.CIDRMask(16, 32)},
		&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
		&net.IPAddr{IP: net.ParseIP("10.0.0.1")},
	}
	assert.Equal(t, []models.HostInfo{{HostAddress: "192.168.1.20", NetworkPrefixLength: 24}}, hostInfos(addrs))
}

func TestLocal_Overrides(t *testing.T) {
	l := &Local{ID: "dev-1", Name: "desk"}
	assert.Equal(t, "dev-1", l.DeviceID())
	assert.Equal(t, "desk", l.DeviceName())
	assert.Equal(t, runtime.GOOS, l.Platform().Name)
	assert.NotEmpty(t, (&Local{}).DeviceID())
}
