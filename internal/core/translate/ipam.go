package translate

import (
	"net/netip"

	"github.com/artpar/stevedore/internal/core/compose"
)

// =============================================================================
// IPAM
// =============================================================================

// EngineIPAM is the validated engine form of a network's IPAM block.
type EngineIPAM struct {
	Driver string
	Pools  []EnginePool
}

// EnginePool is one validated address pool. Gateway and IPRange are zero
// values when unset.
type EnginePool struct {
	Subnet  netip.Prefix
	Gateway netip.Addr
	IPRange netip.Prefix
}

// IPAM validates CIDR and IP syntax and checks that each gateway and ip_range
// lies inside its subnet. A nil input yields nil.
func IPAM(ipam *compose.IPAM) (*EngineIPAM, error) {
	if ipam == nil {
		return nil, nil
	}

	out := &EngineIPAM{Driver: ipam.Driver, Pools: make([]EnginePool, 0, len(ipam.Pools))}
	for i, p := range ipam.Pools {
		subnet, err := netip.ParsePrefix(p.Subnet)
		if err != nil {
			return nil, &InvalidIpamConfig{Pool: i, Field: "subnet", Value: p.Subnet, Reason: "not a CIDR prefix"}
		}
		if subnet != subnet.Masked() {
			return nil, &InvalidIpamConfig{Pool: i, Field: "subnet", Value: p.Subnet, Reason: "host bits are set, expected " + subnet.Masked().String()}
		}
		pool := EnginePool{Subnet: subnet}

		if p.Gateway != "" {
			gw, err := netip.ParseAddr(p.Gateway)
			if err != nil {
				return nil, &InvalidIpamConfig{Pool: i, Field: "gateway", Value: p.Gateway, Reason: "not an IP address"}
			}
			if !subnet.Contains(gw) {
				return nil, &InvalidIpamConfig{Pool: i, Field: "gateway", Value: p.Gateway, Reason: "outside subnet " + p.Subnet}
			}
			pool.Gateway = gw
		}

		if p.IPRange != "" {
			r, err := netip.ParsePrefix(p.IPRange)
			if err != nil {
				return nil, &InvalidIpamConfig{Pool: i, Field: "ip_range", Value: p.IPRange, Reason: "not a CIDR prefix"}
			}
			if r.Bits() < subnet.Bits() || !subnet.Contains(r.Addr()) {
				return nil, &InvalidIpamConfig{Pool: i, Field: "ip_range", Value: p.IPRange, Reason: "outside subnet " + p.Subnet}
			}
			pool.IPRange = r.Masked()
		}

		out.Pools = append(out.Pools, pool)
	}
	return out, nil
}
