package translate

import (
	"net/netip"
	"testing"

	"github.com/artpar/stevedore/internal/core/compose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPAM_Nil(t *testing.T) {
	got, err := IPAM(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIPAM_Valid(t *testing.T) {
	got, err := IPAM(&compose.IPAM{
		Driver: "default",
		Pools: []compose.IPAMPool{
			{Subnet: "172.28.0.0/16", Gateway: "172.28.0.1", IPRange: "172.28.5.0/24"},
			{Subnet: "fd00:1::/64"},
		},
	})
	require.NoError(t, err)

	require.Len(t, got.Pools, 2)
	assert.Equal(t, "default", got.Driver)
	assert.Equal(t, netip.MustParsePrefix("172.28.0.0/16"), got.Pools[0].Subnet)
	assert.Equal(t, netip.MustParseAddr("172.28.0.1"), got.Pools[0].Gateway)
	assert.Equal(t, netip.MustParsePrefix("172.28.5.0/24"), got.Pools[0].IPRange)
	assert.False(t, got.Pools[1].Gateway.IsValid())
	assert.False(t, got.Pools[1].IPRange.IsValid())
}

func TestIPAM_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		pool  compose.IPAMPool
		field string
	}{
		{"subnet syntax", compose.IPAMPool{Subnet: "172.28.0.0"}, "subnet"},
		{"subnet host bits", compose.IPAMPool{Subnet: "172.28.0.1/16"}, "subnet"},
		{"gateway syntax", compose.IPAMPool{Subnet: "10.0.0.0/8", Gateway: "10.0.0"}, "gateway"},
		{"gateway outside", compose.IPAMPool{Subnet: "10.0.0.0/8", Gateway: "192.168.0.1"}, "gateway"},
		{"range syntax", compose.IPAMPool{Subnet: "10.0.0.0/8", IPRange: "10.1.0.0/33"}, "ip_range"},
		{"range outside", compose.IPAMPool{Subnet: "10.0.0.0/16", IPRange: "10.1.0.0/24"}, "ip_range"},
		{"range wider than subnet", compose.IPAMPool{Subnet: "10.0.0.0/16", IPRange: "10.0.0.0/8"}, "ip_range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := IPAM(&compose.IPAM{Pools: []compose.IPAMPool{{Subnet: "192.168.0.0/24"}, tt.pool}})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidIpamConfig)

			var ierr *InvalidIpamConfig
			require.ErrorAs(t, err, &ierr)
			assert.Equal(t, 1, ierr.Pool)
			assert.Equal(t, tt.field, ierr.Field)
		})
	}
}
