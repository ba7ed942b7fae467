package security

import (
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexFingerprint = regexp.MustCompile(`^[0-9a-f]{64}$`)

func fakeManager(c FingerprintComponents, calls *int) *FingerprintManager {
	return &FingerprintManager{collect: func() FingerprintComponents {
		if calls != nil {
			*calls++
		}
		return c
	}}
}

// TestMachineFingerprintFormat tests that the host fingerprint is a stable 64 char hex digest
func TestMachineFingerprintFormat(t *testing.T) {
	fp := MachineFingerprint()

	assert.Regexp(t, hexFingerprint, fp)
	assert.Equal(t, fp, MachineFingerprint(), "fingerprint must be stable within a process")
}

// TestFingerprintComputedOnce tests that host identity is collected a single time
func TestFingerprintComputedOnce(t *testing.T) {
	calls := 0
	fm := fakeManager(FingerprintComponents{Hostname: "build-01", OS: "linux", Arch: "amd64"}, &calls)

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = fm.Fingerprint()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}

// TestHashComponents tests that every component contributes to the digest
func TestHashComponents(t *testing.T) {
	base := FingerprintComponents{
		Hostname:  "build-01",
		OS:        "linux",
		Arch:      "amd64",
		CPUModel:  "Intel(R) Xeon(R)",
		MachineID: "0f1e2d3c4b5a",
		MACs:      []string{"00:11:22:33:44:55", "66:77:88:99:aa:bb"},
	}
	baseHash := HashComponents(base)
	require.Regexp(t, hexFingerprint, baseHash)
	assert.Equal(t, baseHash, HashComponents(base))

	tests := []struct {
		name   string
		mutate func(c *FingerprintComponents)
	}{
		{"hostname", func(c *FingerprintComponents) { c.Hostname = "build-02" }},
		{"os", func(c *FingerprintComponents) { c.OS = "darwin" }},
		{"arch", func(c *FingerprintComponents) { c.Arch = "arm64" }},
		{"cpu model", func(c *FingerprintComponents) { c.CPUModel = "Apple M2" }},
		{"machine id", func(c *FingerprintComponents) { c.MachineID = "ffff" }},
		{"mac addresses", func(c *FingerprintComponents) { c.MACs = c.MACs[:1] }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			c.MACs = append([]string(nil), base.MACs...)
			tt.mutate(&c)
			assert.NotEqual(t, baseHash, HashComponents(c))
		})
	}
}

// TestComponentsReturnsCopy tests that callers cannot mutate the cached components
func TestComponentsReturnsCopy(t *testing.T) {
	fm := fakeManager(FingerprintComponents{Hostname: "h", MACs: []string{"00:11:22:33:44:55"}}, nil)
	before := fm.Fingerprint()

	c := fm.Components()
	c.MACs[0] = "ff:ff:ff:ff:ff:ff"

	assert.Equal(t, "00:11:22:33:44:55", fm.Components().MACs[0])
	assert.Equal(t, before, fm.Fingerprint())
}

func TestHardwareAddrsSorted(t *testing.T) {
	macs, err := hardwareAddrs()
	if err != nil {
		t.Skipf("network interfaces unavailable: %v", err)
	}
	assert.IsNonDecreasing(t, macs)
}
