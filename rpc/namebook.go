package rpc

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
)

// ServerSpec describes one server process in the cluster.
type ServerSpec struct {
	// Rank is the server's cluster-wide ID, assigned by ip-config line order.
	Rank int
	// Addr is the server's listen address, "host:port".
	Addr string
	// MachineID is the index of the ip-config line the server came from.
	MachineID int
}

// Namebook is the static view of the server cluster, parsed from an
// ip-config file. All clients and servers must load the same file.
type Namebook struct {
	servers  []ServerSpec
	machines []string // machine id -> host
}

// ParseIPConfig parses ip-config lines of the form
//
//	<host> <base-port> <group-size>
//
// Each line describes one machine running group-size server processes on
// consecutive ports starting at base-port. Server ranks are assigned in file
// order. Blank lines and #-comments are skipped.
func ParseIPConfig(r io.Reader) (*Namebook, error) {
	nb := &Namebook{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, &ConfigError{Detail: fmt.Sprintf("line %d: want \"host port group-size\", got %q", lineNo, line)}
		}
		host := fields[0]
		port, err := strconv.Atoi(fields[1])
		if err != nil || port < 1 || port > 65535 {
			return nil, &ConfigError{Detail: fmt.Sprintf("line %d: bad port %q", lineNo, fields[1])}
		}
		groupSize, err := strconv.Atoi(fields[2])
		if err != nil || groupSize < 1 {
			return nil, &ConfigError{Detail: fmt.Sprintf("line %d: bad group size %q", lineNo, fields[2])}
		}

		machineID := len(nb.machines)
		nb.machines = append(nb.machines, host)
		for i := 0; i < groupSize; i++ {
			nb.servers = append(nb.servers, ServerSpec{
				Rank:      len(nb.servers),
				Addr:      net.JoinHostPort(host, strconv.Itoa(port+i)),
				MachineID: machineID,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(nb.servers) == 0 {
		return nil, &ConfigError{Detail: "ip-config contains no servers"}
	}
	return nb, nil
}

// LoadIPConfig reads and parses an ip-config file.
func LoadIPConfig(path string) (*Namebook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseIPConfig(f)
}

// NumServers returns the total server count.
func (nb *Namebook) NumServers() int { return len(nb.servers) }

// NumMachines returns the number of distinct machines.
func (nb *Namebook) NumMachines() int { return len(nb.machines) }

// MachineHost returns the host of machine machineID.
func (nb *Namebook) MachineHost(machineID int) (string, error) {
	if machineID < 0 || machineID >= len(nb.machines) {
		return "", &ConfigError{Detail: fmt.Sprintf("machine %d out of range [0, %d)", machineID, len(nb.machines))}
	}
	return nb.machines[machineID], nil
}

// Servers returns all server specs in rank order (shared, read-only).
func (nb *Namebook) Servers() []ServerSpec { return nb.servers }

// Server returns the spec for rank.
func (nb *Namebook) Server(rank int) (ServerSpec, error) {
	if rank < 0 || rank >= len(nb.servers) {
		return ServerSpec{}, &ConfigError{Detail: fmt.Sprintf("server rank %d out of range [0, %d)", rank, len(nb.servers))}
	}
	return nb.servers[rank], nil
}

// MachineServers returns the server specs running on machineID.
func (nb *Namebook) MachineServers(machineID int) []ServerSpec {
	var out []ServerSpec
	for _, s := range nb.servers {
		if s.MachineID == machineID {
			out = append(out, s)
		}
	}
	return out
}

// LocalMachineID resolves which ip-config machine the current process runs
// on, by matching the configured hosts against local interface addresses.
// Loopback hosts match unconditionally, which is what single-machine test
// clusters use.
func (nb *Namebook) LocalMachineID() (int, error) {
	local, err := localAddrs()
	if err != nil {
		return 0, err
	}
	for id, host := range nb.machines {
		if isLoopbackHost(host) {
			return id, nil
		}
		if _, ok := local[host]; ok {
			return id, nil
		}
		// Hostname entries: resolve and compare.
		if ips, err := net.LookupHost(host); err == nil {
			for _, ip := range ips {
				if _, ok := local[ip]; ok {
					return id, nil
				}
			}
		}
	}
	return 0, &ConfigError{Detail: "no ip-config machine matches a local interface address"}
}

func localAddrs() (map[string]struct{}, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok {
			out[ipn.IP.String()] = struct{}{}
		}
	}
	return out, nil
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
