package security

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// machineIDPaths are the well-known locations of a persistent host identifier.
var machineIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

// FingerprintComponents holds the raw host attributes a fingerprint is derived from.
type FingerprintComponents struct {
	Hostname  string   `json:"hostname"`
	OS        string   `json:"os"`
	Arch      string   `json:"arch"`
	CPUModel  string   `json:"cpu_model"`
	MachineID string   `json:"machine_id,omitempty"`
	MACs      []string `json:"mac_addresses"`
}

// FingerprintManager computes the machine fingerprint once and serves it from memory.
type FingerprintManager struct {
	once        sync.Once
	fingerprint string
	components  FingerprintComponents

	// collect is replaceable in tests.
	collect func() FingerprintComponents
}

// NewFingerprintManager creates a fingerprint manager reading the real host identity.
func NewFingerprintManager() *FingerprintManager {
	return &FingerprintManager{collect: collectComponents}
}

var defaultFingerprints = NewFingerprintManager()

// MachineFingerprint returns the stable SHA-256 hex fingerprint of the current host.
func MachineFingerprint() string {
	return defaultFingerprints.Fingerprint()
}

// MachineComponents returns the raw inputs behind MachineFingerprint.
func MachineComponents() FingerprintComponents {
	return defaultFingerprints.Components()
}

// Fingerprint returns the cached fingerprint, computing it on first use.
func (fm *FingerprintManager) Fingerprint() string {
	fm.once.Do(fm.generate)
	return fm.fingerprint
}

// Components returns a copy of the attributes used for the fingerprint.
func (fm *FingerprintManager) Components() FingerprintComponents {
	fm.once.Do(fm.generate)
	c := fm.components
	c.MACs = append([]string(nil), fm.components.MACs...)
	return c
}

func (fm *FingerprintManager) generate() {
	fm.components = fm.collect()
	fm.fingerprint = HashComponents(fm.components)

	slog.Debug("Machine fingerprint generated",
		slog.String("component", "fingerprint"),
		slog.String("os", fm.components.OS),
		slog.String("arch", fm.components.Arch),
		slog.Int("mac_count", len(fm.components.MACs)),
		slog.Bool("has_machine_id", fm.components.MachineID != ""),
	)
}

// HashComponents folds the components into a 64 character lowercase hex digest.
func HashComponents(c FingerprintComponents) string {
	factors := []string{
		c.Hostname,
		c.OS,
		c.Arch,
		c.CPUModel,
		c.MachineID,
		strings.Join(c.MACs, ","),
	}
	sum := sha256.Sum256([]byte(strings.Join(factors, "|")))
	return hex.EncodeToString(sum[:])
}

func collectComponents() FingerprintComponents {
	c := FingerprintComponents{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}

	if hostname, err := hostName(); err == nil {
		c.Hostname = hostname
	} else {
		c.Hostname = "unknown-host"
		slog.Warn("Failed to get hostname, using fallback", slog.String("error", err.Error()))
	}

	c.CPUModel = cpuModel()
	c.MachineID = machineID()

	macs, err := hardwareAddrs()
	if err != nil {
		slog.Warn("Failed to list network interfaces", slog.String("error", err.Error()))
	}
	c.MACs = macs

	return c
}

func hostName() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "", fmt.Errorf("hostname is empty")
	}
	return hostname, nil
}

// hardwareAddrs lists the MAC addresses of every non-loopback interface, sorted,
// regardless of link state so that toggling a network does not change the result.
func hardwareAddrs() ([]string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to get network interfaces: %w", err)
	}

	seen := make(map[string]struct{})
	var macs []string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		mac := iface.HardwareAddr.String()
		if mac == "" || mac == "00:00:00:00:00:00" {
			continue
		}
		if _, dup := seen[mac]; dup {
			continue
		}
		seen[mac] = struct{}{}
		macs = append(macs, mac)
	}
	sort.Strings(macs)
	return macs, nil
}

func cpuModel() string {
	switch runtime.GOOS {
	case "linux":
		data, err := os.ReadFile("/proc/cpuinfo")
		if err != nil {
			return ""
		}
		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "model name") {
				if _, value, ok := strings.Cut(line, ":"); ok {
					return strings.TrimSpace(value)
				}
			}
		}
		return ""
	case "windows":
		return os.Getenv("PROCESSOR_IDENTIFIER")
	default:
		return ""
	}
}

func machineID() string {
	for _, path := range machineIDPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	return ""
}
