/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package wifi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
)

const addressPollInterval = 500 * time.Millisecond

var errInterfaceNotFound = errors.New("interface not found")

// NMCLIStation drives NetworkManager through the nmcli command.
type NMCLIStation struct {
	iface      string
	run        func(ctx context.Context, args ...string) ([]byte, error)
	interfaces func(ctx context.Context) (psnet.InterfaceStatList, error)
}

func NewNMCLIStation(iface string) *NMCLIStation {
	return &NMCLIStation{
		iface:      iface,
		run:        runNMCLI,
		interfaces: psnet.InterfacesWithContext,
	}
}

func runNMCLI(ctx context.Context, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "nmcli", args...).CombinedOutput()
	if err != nil {
		// argv may carry a password and is never included
		return out, fmt.Errorf("nmcli: %w: %s", err, strings.TrimSpace(string(out)))
	}

	return out, nil
}

func (s *NMCLIStation) Associate(ctx context.Context, ssid, password string) error {
	args := []string{"--wait", "30", "device", "wifi", "connect", ssid}
	if password != "" {
		args = append(args, "password", password)
	}

	args = append(args, "ifname", s.iface)

	if _, err := s.run(ctx, args...); err != nil {
		return fmt.Errorf("associate on %s: %w", s.iface, err)
	}

	return nil
}

// AcquireAddress polls the interface until it carries a routable IPv4
// address or ctx ends.
func (s *NMCLIStation) AcquireAddress(ctx context.Context) (string, error) {
	ticker := time.NewTicker(addressPollInterval)
	defer ticker.Stop()

	for {
		addr, err := s.currentAddress(ctx)
		if err != nil {
			return "", err
		}

		if addr != "" {
			return addr, nil
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for address on %s: %w", s.iface, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *NMCLIStation) currentAddress(ctx context.Context) (string, error) {
	ifaces, err := s.interfaces(ctx)
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Name != s.iface {
			continue
		}

		for _, a := range iface.Addrs {
			ip, _, err := net.ParseCIDR(a.Addr)
			if err != nil {
				ip = net.ParseIP(a.Addr)
			}

			if ip == nil || ip.To4() == nil || ip.IsLinkLocalUnicast() || ip.IsLoopback() {
				continue
			}

			return ip.String(), nil
		}

		return "", nil
	}

	return "", fmt.Errorf("%w: %s", errInterfaceNotFound, s.iface)
}

func (s *NMCLIStation) Disconnect(ctx context.Context) error {
	_, err := s.run(ctx, "device", "disconnect", s.iface)

	return err
}
