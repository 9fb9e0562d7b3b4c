package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/sepprobe/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sepprobe.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadProfileThenFileOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
target_ip = "10.0.0.5"
profile = "Xeon"
core_count = 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.CoreCount)
	require.Equal(t, uint64(0x400B0D), cfg.HotspotAddress)
	require.Equal(t, uint32(6), cfg.ProtocolVersion)
	require.Equal(t, DefaultPort, cfg.TargetPort)
	require.Equal(t, "bin_ecb.config_6_0_CPU_CLK_UNHALTED.REF_TSC", cfg.ECBFile)
	require.Equal(t, 5*time.Second, cfg.Collection())
	require.Equal(t, "10.0.0.5:9321", cfg.Address())
}

func TestLoadWithoutProfile(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
target_ip = "127.0.0.1"
target_port = 4000
protocol_version = 3
hotspot_address = 0x1000
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4000, cfg.TargetPort)
	require.Equal(t, uint32(3), cfg.ProtocolVersion)
	require.Equal(t, uint64(0x1000), cfg.HotspotAddress)
	require.Equal(t, "bin_ecb.config_3_0_UNC_IMC_DRAM_RW_SLICE0_UNC_IMC_DRAM_RW_SLICE1", cfg.UncoreECBFile)
}

func TestLoadRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"unknown profile": "target_ip = \"127.0.0.1\"\nprofile = \"Atom\"\n",
		"missing ip":      "target_port = 9321\n",
		"bad version":     "target_ip = \"127.0.0.1\"\nprotocol_version = 4\n",
		"bad port":        "target_ip = \"127.0.0.1\"\ntarget_port = 70000\n",
		"not toml":        "target_ip = \n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestTemplateLoads(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "tpl.toml")
	require.NoError(t, WriteTemplate(path, false))
	require.Error(t, WriteTemplate(path, false))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "ApolloLakePremiumSKU", cfg.Profile)
	require.Equal(t, 4, cfg.CoreCount)
	require.Equal(t, 3*time.Second, cfg.Warmup())
}

func TestProfileNames(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, []string{"ApolloLakePremiumSKU", "Xeon"}, ProfileNames())
}
