package certs

import "net"

// LANAddresses returns the IPv4 addresses of every interface that is up,
// loopback excluded.
func LANAddresses() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var addrs []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		ifaddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range ifaddrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
				addrs = append(addrs, ip4.String())
			}
		}
	}
	return addrs, nil
}

// Hosts returns the names a server certificate should cover: localhost and
// every LAN address. On error the loopback names are still returned.
func Hosts() ([]string, error) {
	hosts := []string{"localhost", "127.0.0.1"}
	lan, err := LANAddresses()
	if err != nil {
		return hosts, err
	}
	return append(hosts, lan...), nil
}
