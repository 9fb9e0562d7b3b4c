package config

import (
	"fmt"
	"os"
)

func Template() string {
	return configTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(configTemplate), 0o600)
}

const configTemplate = `target_ip = "127.0.0.1"
target_port = 9321
profile = "ApolloLakePremiumSKU"
# protocol_version = 6
# core_count = 4
# hotspot_address = 0x804900F
hotspot_tolerance = 5
# module_of_interest = "/usr/user/test"
uncore_supported = false
capture_dir = "."
# ecb_file = "bin_ecb.config_6_0_CPU_CLK_UNHALTED.REF_TSC"
# uncore_ecb_file = "bin_ecb.config_6_0_UNC_IMC_DRAM_RW_SLICE0_UNC_IMC_DRAM_RW_SLICE1"
warmup_seconds = 3
collection_seconds = 5
`
