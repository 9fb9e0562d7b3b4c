package session

import (
	"github.com/danmuck/sepprobe/internal/protocol/schema"
	"github.com/danmuck/sepprobe/internal/protocol/wire"
)

// Fixed payload values sent during a collection setup.
const (
	NumDevices         = 4
	ReadMSRIndex       = 702
	NumDescriptors     = 2
	CoreDeviceUnits    = 4
	UncoreDeviceUnits  = 1
	PMUSlotsPerCPU     = 7
	coreSampleSize     = 48
	uncoreDescSize     = 56
	maxGPCounters      = 4
	maxFixedCounters   = 3
	coreDispatchID     = 2
	uncoreDispatchID   = 120
	driverLogEnableCmd = 1
)

func u32(v uint32) []byte { return wire.Order.AppendUint32(nil, v) }

func mustSet(r *wire.Record, vals wire.Values) *wire.Record {
	if err := r.SetFields(vals); err != nil {
		panic(err)
	}
	return r
}

// DriverConfigPayload is the DrvConfig sent with INIT_DRIVER.
func DriverConfigPayload(s *schema.Schema) *wire.Record {
	return mustSet(wire.New(s.DrvConfig), wire.Values{
		"size":                  120,
		"version":               1,
		"num_events":            1,
		"seed_name_len":         5,
		"read_pstate_msrs":      1,
		"ds_area_available":     1,
		"unc_timer_interval":    10,
		"unc_em_factor":         100,
		"p_state_trigger_index": -1,
	})
}

// DeviceConfigPayload is the core DevConfig sent with INIT.
func DeviceConfigPayload() *wire.Record {
	return mustSet(wire.New(schema.DevConfig), wire.Values{
		"dispatch_id":     coreDispatchID,
		"results_offset":  int64(schema.SampleRecordPC.Size()),
		"max_gp_counters": maxGPCounters,
	})
}

// UncoreDeviceConfigPayload is the DevUncConfig sent with INIT_UNC.
func UncoreDeviceConfigPayload() *wire.Record {
	return mustSet(wire.New(schema.DevUncConfig), wire.Values{
		"dispatch_id":    uncoreDispatchID,
		"results_offset": int64(schema.UncoreSampleRecordPC.Size()),
		"device_type":    1,
	})
}

// TopologyPayload describes n cpus, the first one being the socket master.
func TopologyPayload(n int) []*wire.Record {
	out := make([]*wire.Record, n)
	for i := range out {
		var socketMaster int64
		if i == 0 {
			socketMaster = 1
		}
		out[i] = mustSet(wire.New(schema.DrvTopology), wire.Values{
			"cpu_number":         int64(i),
			"socket_master":      socketMaster,
			"core_master":        1,
			"thr_master":         1,
			"cpu_module_num":     int64(i),
			"cpu_module_master":  1,
			"cpu_num_modules":    2,
			"arch_perfmon_ver":   4,
			"num_gp_counters":    maxGPCounters,
			"num_fixed_counters": maxFixedCounters,
		})
	}
	return out
}

func eventConfig() *wire.Record {
	return mustSet(wire.New(schema.EventConfig), wire.Values{
		"num_groups":         1,
		"em_mode":            -1,
		"em_factor":          -1,
		"em_event_num":       -1,
		"max_gp_events":      maxGPCounters,
		"max_fixed_counters": maxFixedCounters,
	})
}

// EventConfigPayload is the core EventConfig sent with EM_GROUPS.
func EventConfigPayload() *wire.Record {
	return mustSet(eventConfig(), wire.Values{"sample_size": coreSampleSize})
}

// UncoreEventConfigPayload is the EventConfig sent with EM_GROUPS_UNC.
func UncoreEventConfigPayload() *wire.Record {
	return mustSet(eventConfig(), wire.Values{"num_groups_unc": 1})
}

// EventDescPayload is the core descriptor sent with DESC_NEXT.
func EventDescPayload() *wire.Record {
	return mustSet(wire.New(schema.EventDesc), wire.Values{"sample_size": coreSampleSize})
}

// UncoreEventDescPayload is the uncore descriptor sent with DESC_NEXT.
func UncoreEventDescPayload() *wire.Record {
	return mustSet(wire.New(schema.EventDesc), wire.Values{
		"sample_size":       uncoreDescSize,
		"uncore_ebc_offset": int64(schema.UncoreSampleRecordPC.Size()),
	})
}

// DriverControlLogPayload enables the driver log.
func DriverControlLogPayload() *wire.Record {
	return mustSet(wire.New(schema.DriverControlLog), wire.Values{"command": driverLogEnableCmd})
}
