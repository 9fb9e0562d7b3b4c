// Package schema holds the per-version record layouts spoken by the sampling
// driver's remote agent and the dialect that selects between them.
package schema

import "github.com/danmuck/sepprobe/internal/protocol/wire"

// Layouts shared by every protocol version.
var (
	FirstDataMsg = wire.NewLayout("FirstDataMsg",
		wire.Uint32("proto_version"),
		wire.Uint16("data_type"),
		wire.Uint16("data_id"),
	)

	RemoteOsInfo = wire.NewLayout("RemoteOsInfo",
		wire.Uint32("os_family"),
		wire.Uint32("reserved1"),
		wire.Chars("sysname", 64),
		wire.Chars("release", 64),
		wire.Chars("version", 64),
	)

	RemoteSwitch = wire.NewLayout("RemoteSwitch",
		wire.Bits("auto_mode", wire.U32, 1),
		wire.Bits("adv_hotspot", wire.U32, 1),
		wire.Bits("lbr_callstack", wire.U32, 2),
		wire.Bits("full_pebs", wire.U32, 1),
		wire.Bits("uncore_supported", wire.U32, 1),
		wire.Bits("agent_mode", wire.U32, 2),
		wire.Bits("sched_switch_enable", wire.U32, 1),
		wire.Bits("data_transfer_mode", wire.U32, 1),
		wire.Bits("reserved1", wire.U32, 22),
		wire.Uint32("reserved2"),
	)

	RemoteHardwareInfo = wire.NewLayout("RemoteHardwareInfo",
		wire.Uint32("num_cpus"),
		wire.Uint32("family"),
		wire.Uint32("model"),
		wire.Uint32("stepping"),
		wire.Uint64("tsc_freq"),
		wire.Uint64("reserved2"),
		wire.Uint64("reserved3"),
	)

	DriverVersionInfo = wire.NewLayout("DriverVersionInfo",
		wire.Uint8("major"),
		wire.Uint8("minor"),
		wire.Uint8("api"),
		wire.Uint8("update"),
	)

	DimmInfo = wire.NewLayout("DimmInfo",
		wire.Uint32("platform_id"),
		wire.Uint32("channel_num"),
		wire.Uint32("rank_num"),
		wire.Uint32("value"),
		wire.Uint8("mc_num"),
		wire.Uint8("dimm_valid"),
		wire.Uint8("valid_value"),
		wire.Uint8("rank_value"),
		wire.Uint8("density_value"),
		wire.Uint8("width_value"),
		wire.Uint16("socket_num"),
		wire.Uint64("reserved1"),
		wire.Uint64("reserved2"),
	)

	PlatformInfo = wire.NewLayout("PlatformInfo",
		wire.Uint64("info"),
		wire.Uint64("ddr_freq_index"),
		wire.Uint8("misc_valid"),
		wire.Uint8("reserved1"),
		wire.Uint16("reserved2"),
		wire.Uint32("vmm_timer_freq"),
		wire.Uint64("misc_info"),
		wire.Uint64("ufs_freq"),
		wire.NestedArray("dimm_info", DimmInfo, 384),
		wire.Uint64("energy_multiplier"),
		wire.Uint64("reserved3"),
		wire.Uint64("reserved4"),
		wire.Uint64("reserved5"),
		wire.Uint64("reserved6"),
	)

	DriverControlLog = wire.NewLayout("DriverControlLog",
		wire.Uint32("command"),
		wire.Uint32("reserved1"),
		wire.Array("data", wire.U8, 256),
		wire.Uint64("reserved2"),
		wire.Uint64("reserved3"),
		wire.Uint64("reserved4"),
		wire.Uint64("reserved5"),
	)

	DevConfig = wire.NewLayout("DevConfig",
		wire.Uint16("size"),
		wire.Uint16("version"),
		wire.Uint32("dispatch_id"),
		wire.Uint32("pebs_mode"),
		wire.Uint32("pebs_record_num"),
		wire.Uint32("results_offset"),
		wire.Uint32("max_gp_counters"),
		wire.Uint32("device_type"),
		wire.Uint32("core_type"),
		wire.Bits("pebs_capture", wire.U64, 1),
		wire.Bits("collect_lbrs", wire.U64, 1),
		wire.Bits("collect_callstacks", wire.U64, 1),
		wire.Bits("collect_kernel_callstacks", wire.U64, 1),
		wire.Bits("latency_capture", wire.U64, 1),
		wire.Bits("power_capture", wire.U64, 1),
		wire.Bits("htoff_mode", wire.U64, 1),
		wire.Bits("eventing_ip_capture", wire.U64, 1),
		wire.Bits("hle_capture", wire.U64, 1),
		wire.Bits("precise_ip_lbrs", wire.U64, 1),
		wire.Bits("store_lbrs", wire.U64, 1),
		wire.Bits("tsc_capture", wire.U64, 1),
		wire.Bits("enable_perf_metrics", wire.U64, 1),
		wire.Bits("enable_adaptive_pebs", wire.U64, 1),
		wire.Bits("apebs_collect_mem_info", wire.U64, 1),
		wire.Bits("apebs_collect_gpr", wire.U64, 1),
		wire.Bits("apebs_collect_xmm", wire.U64, 1),
		wire.Bits("apebs_collect_lbrs", wire.U64, 1),
		wire.Bits("collect_fixed_counter_pebs", wire.U64, 1),
		wire.Bits("collect_os_callstacks", wire.U64, 1),
		wire.Bits("reserved_field1", wire.U64, 44),
		wire.Array("emon_unc_offset", wire.U32, 1000),
		wire.Uint32("ebc_group_id_offset"),
		wire.Uint8("num_perf_metrics"),
		wire.Uint8("apebs_num_lbr_entries"),
		wire.Uint16("emon_perf_metrics_offset"),
		wire.Uint32("device_scope"),
		wire.Uint32("reserved1"),
		wire.Uint64("reserved2"),
		wire.Uint64("reserved3"),
		wire.Uint64("reserved4"),
	)

	DevUncConfig = wire.NewLayout("DevUncConfig",
		wire.Uint16("size"),
		wire.Uint16("version"),
		wire.Uint32("dispatch_id"),
		wire.Uint32("results_offset"),
		wire.Uint32("device_type"),
		wire.Uint32("device_scope"),
		wire.Uint32("reserved1"),
		wire.Array("emon_unc_offset", wire.U32, 1000),
		wire.Uint64("reserved2"),
		wire.Uint64("reserved3"),
		wire.Uint64("reserved4"),
	)

	DrvTopology = wire.NewLayout("DrvTopology",
		wire.Uint32("cpu_number"),
		wire.Uint16("cpu_package_num"),
		wire.Uint16("cpu_core_num"),
		wire.Uint16("cpu_hw_thread_num"),
		wire.Uint16("reserved1"),
		wire.Int32("socket_master"),
		wire.Int32("core_master"),
		wire.Int32("thr_master"),
		wire.Uint32("cpu_module_num"),
		wire.Uint32("cpu_module_master"),
		wire.Uint32("cpu_num_modules"),
		wire.Uint32("cpu_core_type"),
		wire.Uint32("arch_perfmon_ver"),
		wire.Uint32("num_gp_counters"),
		wire.Uint32("num_fixed_counters"),
		wire.Uint32("reserved2"),
		wire.Uint64("reserved3"),
		wire.Uint64("reserved4"),
	)

	SampleDrop = wire.NewLayout("SampleDrop",
		wire.Uint32("os_id"),
		wire.Uint32("cpu_id"),
		wire.Uint32("sampled"),
		wire.Uint32("dropped"),
	)

	SampleDropInfo = wire.NewLayout("SampleDropInfo",
		wire.Uint32("size"),
		wire.NestedArray("drop_info", SampleDrop, 20),
	)

	EventDesc = wire.NewLayout("EventDesc",
		wire.Uint32("sample_size"),
		wire.Uint32("pebs_offset"),
		wire.Uint32("pebs_size"),
		wire.Uint32("lbr_offset"),
		wire.Uint32("lbr_num_regs"),
		wire.Uint32("latency_offset_in_sample"),
		wire.Uint32("latency_size_in_sample"),
		wire.Uint32("latency_size_from_pebs_record"),
		wire.Uint32("latency_offset_in_pebs_record"),
		wire.Uint32("power_offset_in_sample"),
		wire.Uint32("ebc_offset"),
		wire.Uint32("uncore_ebc_offset"),
		wire.Uint32("eventing_ip_offset"),
		wire.Uint32("hle_offset"),
		wire.Uint32("pwr_offset"),
		wire.Uint32("callstack_offset"),
		wire.Uint32("callstack_size"),
		wire.Uint32("p_state_offset"),
		wire.Uint32("pebs_tsc_offset"),
		wire.Uint32("perfmetrics_offset"),
		wire.Uint32("perfmetrics_size"),
		wire.Uint16("applicable_counters_offset"),
		wire.Uint16("gpr_info_offset"),
		wire.Uint16("gpr_info_size"),
		wire.Uint16("xmm_info_offset"),
		wire.Uint16("xmm_info_size"),
		wire.Uint16("lbr_info_size"),
		wire.Uint32("reserved2"),
		wire.Uint64("reserved3"),
	)

	EventConfig = wire.NewLayout("EventConfig",
		wire.Uint32("num_groups"),
		wire.Int32("em_mode"),
		wire.Int32("em_factor"),
		wire.Int32("em_event_num"),
		wire.Uint32("sample_size"),
		wire.Uint32("max_gp_events"),
		wire.Uint32("max_fixed_counters"),
		wire.Uint32("max_ro_counters"),
		wire.Uint32("pebs_offset"),
		wire.Uint32("pebs_size"),
		wire.Uint32("lbr_offset"),
		wire.Uint32("lbr_num_regs"),
		wire.Uint32("latency_offset_in_sample"),
		wire.Uint32("latency_size_in_sample"),
		wire.Uint32("latency_size_from_pebs_record"),
		wire.Uint32("latency_offset_in_pebs_record"),
		wire.Uint32("power_offset_in_sample"),
		wire.Uint32("ebc_offset"),
		wire.Uint32("num_groups_unc"),
		wire.Uint32("ebc_offset_unc"),
		wire.Uint32("sample_size_unc"),
		wire.Uint32("eventing_ip_offset"),
		wire.Uint32("hle_offset"),
		wire.Uint32("pwr_offset"),
		wire.Uint32("callstack_offset"),
		wire.Uint32("callstack_size"),
		wire.Uint32("p_state_offset"),
		wire.Uint32("pebs_tsc_offset"),
		wire.Uint64("reserved1"),
		wire.Uint64("reserved2"),
		wire.Uint64("reserved3"),
		wire.Uint64("reserved4"),
	)

	TaskInfo = wire.NewLayout("TaskInfo",
		wire.Uint64("id"),
		wire.Chars("name", 32),
		wire.Uint64("address_space_id"),
	)

	SampleRecordPC = wire.NewLayout("SampleRecordPC",
		wire.Uint32("descriptor_id"),
		wire.Uint32("osid"),
		wire.Uint64("iip"),
		wire.Uint64("ipsr"),
		wire.Uint16("cs"),
		wire.Bits("cpuNum", wire.U16, 12),
		wire.Bits("notVmid0", wire.U16, 1),
		wire.Bits("codeMode", wire.U16, 2),
		wire.Bits("uncore_valid", wire.U16, 1),
		wire.Uint32("tid"),
		wire.Uint32("pidRecIndex"),
		wire.Bits("mrIndex", wire.U32, 20),
		wire.Bits("eventIndex", wire.U32, 8),
		wire.Bits("tidIsRaw", wire.U32, 1),
		wire.Bits("IA64PC", wire.U32, 1),
		wire.Bits("pidRecIndexRaw", wire.U32, 1),
		wire.Bits("mrIndexNone", wire.U32, 1),
		wire.Uint64("tsc"),
	)

	ModuleRecord = wire.NewLayout("ModuleRecord",
		wire.Uint16("recLength"),
		wire.Bits("segmentType", wire.U16, 2),
		wire.Bits("loadEvent", wire.U16, 1),
		wire.Bits("processed", wire.U16, 1),
		wire.Bits("reserved0", wire.U16, 12),
		wire.Uint16("selector"),
		wire.Uint16("segmentNameLength"),
		wire.Uint32("segmentNumber"),
		wire.Bits("exe", wire.U32, 1),
		wire.Bits("globalModule", wire.U32, 1),
		wire.Bits("bogusWin95", wire.U32, 1),
		wire.Bits("pidRecIndexRaw", wire.U32, 1),
		wire.Bits("sampleFound", wire.U32, 1),
		wire.Bits("tscUsed", wire.U32, 1),
		wire.Bits("duplicate", wire.U32, 1),
		wire.Bits("globalModuleTB5", wire.U32, 1),
		wire.Bits("segmentNameSet", wire.U32, 1),
		wire.Bits("firstModuleRecInProcess", wire.U32, 1),
		wire.Bits("source", wire.U32, 1),
		wire.Bits("unknownLoadAddress", wire.U32, 1),
		wire.Bits("reserved1", wire.U32, 20),
		wire.Uint64("length64"),
		wire.Uint64("loadAddr64"),
		wire.Uint32("pidRecIndex"),
		wire.Uint32("osid"),
		wire.Uint64("unloadTsc"),
		wire.Uint32("path"),
		wire.Uint16("pathLength"),
		wire.Uint16("filenameOffset"),
		wire.Uint32("segmentName"),
		wire.Uint32("page_offset_high"),
		wire.Uint64("tsc"),
		wire.Uint32("parent_pid"),
		wire.Uint32("page_offset_low"),
	)

	UncoreSampleRecordPC = wire.NewLayout("UncoreSampleRecordPC",
		wire.Uint32("descriptor_id"),
		wire.Uint32("osid"),
		wire.Uint16("cpuNum"),
		wire.Uint16("pkgNum"),
		wire.Bits("uncore_valid", wire.U32, 1),
		wire.Bits("reserved1", wire.U32, 31),
		wire.Uint64("reserved2"),
		wire.Uint64("tsc"),
	)
)

// Schema is the full table of record layouts for one protocol version.
type Schema struct {
	FirstCommunicationMsg *wire.Layout
	FirstDataMsg          *wire.Layout
	ControlMsg            *wire.Layout
	TargetStatusMsg       *wire.Layout
	RemoteOsInfo          *wire.Layout
	RemoteSwitch          *wire.Layout
	RemoteHardwareInfo    *wire.Layout
	DriverVersionInfo     *wire.Layout
	SetupInfo             *wire.Layout
	PlatformInfo          *wire.Layout
	DimmInfo              *wire.Layout
	DriverControlLog      *wire.Layout
	DrvConfig             *wire.Layout
	DevConfig             *wire.Layout
	DevUncConfig          *wire.Layout
	DrvTopology           *wire.Layout
	SampleDrop            *wire.Layout
	SampleDropInfo        *wire.Layout
	EventDesc             *wire.Layout
	EventConfig           *wire.Layout
	TaskInfo              *wire.Layout
	SampleRecordPC        *wire.Layout
	ModuleRecord          *wire.Layout
	UncoreSampleRecordPC  *wire.Layout
}

// Layouts lists every layout of the schema in declaration order.
func (s *Schema) Layouts() []*wire.Layout {
	return []*wire.Layout{
		s.FirstCommunicationMsg, s.FirstDataMsg, s.ControlMsg, s.TargetStatusMsg,
		s.RemoteOsInfo, s.RemoteSwitch, s.RemoteHardwareInfo, s.DriverVersionInfo,
		s.SetupInfo, s.PlatformInfo, s.DimmInfo, s.DriverControlLog,
		s.DrvConfig, s.DevConfig, s.DevUncConfig, s.DrvTopology,
		s.SampleDrop, s.SampleDropInfo, s.EventDesc, s.EventConfig,
		s.TaskInfo, s.SampleRecordPC, s.ModuleRecord, s.UncoreSampleRecordPC,
	}
}

// Lookup finds a layout by record name.
func (s *Schema) Lookup(name string) (*wire.Layout, bool) {
	for _, l := range s.Layouts() {
		if l.Name() == name {
			return l, true
		}
	}
	return nil, false
}

func shared(s Schema) *Schema {
	s.FirstDataMsg = FirstDataMsg
	s.RemoteOsInfo = RemoteOsInfo
	s.RemoteSwitch = RemoteSwitch
	s.RemoteHardwareInfo = RemoteHardwareInfo
	s.DriverVersionInfo = DriverVersionInfo
	s.PlatformInfo = PlatformInfo
	s.DimmInfo = DimmInfo
	s.DriverControlLog = DriverControlLog
	s.DevConfig = DevConfig
	s.DevUncConfig = DevUncConfig
	s.DrvTopology = DrvTopology
	s.SampleDrop = SampleDrop
	s.SampleDropInfo = SampleDropInfo
	s.EventDesc = EventDesc
	s.EventConfig = EventConfig
	s.TaskInfo = TaskInfo
	s.SampleRecordPC = SampleRecordPC
	s.ModuleRecord = ModuleRecord
	s.UncoreSampleRecordPC = UncoreSampleRecordPC
	return &s
}

func setupInfoBits(extra ...wire.Field) []wire.Field {
	reserved := 47 - len(extra)
	fields := []wire.Field{
		wire.Bits("nmi_mode", wire.U64, 1),
		wire.Bits("vmm_mode", wire.U64, 1),
		wire.Bits("vmm_vendor", wire.U64, 8),
		wire.Bits("vmm_guest_vm", wire.U64, 1),
		wire.Bits("pebs_accessible", wire.U64, 1),
		wire.Bits("cpu_hotplug_mode", wire.U64, 1),
		wire.Bits("matrix_inaccessible", wire.U64, 1),
		wire.Bits("page_table_isolation", wire.U64, 2),
		wire.Bits("pebs_ignored_by_pti", wire.U64, 1),
	}
	fields = append(fields, extra...)
	return append(fields,
		wire.Bits("reserved1", wire.U64, reserved),
		wire.Uint64("reserved2"),
		wire.Uint64("reserved3"),
		wire.Uint64("reserved4"),
	)
}

// drvConfig builds DrvConfig; the two versions differ only in the u32 slot
// following multi_pebs_enabled.
func drvConfig(slot wire.Field) *wire.Layout {
	return wire.NewLayout("DrvConfig",
		wire.Uint32("size"),
		wire.Uint16("version"),
		wire.Uint16("reserved1"),
		wire.Uint32("num_events"),
		wire.Uint32("num_chipset_events"),
		wire.Uint32("chipset_offset"),
		wire.Int32("seed_name_len"),
		wire.Uint64("seed_name"),
		wire.Uint64("cpu_mask"),
		wire.Bits("start_paused", wire.U64, 1),
		wire.Bits("counting_mode", wire.U64, 1),
		wire.Bits("enable_chipset", wire.U64, 1),
		wire.Bits("enable_gfx", wire.U64, 1),
		wire.Bits("enable_pwr", wire.U64, 1),
		wire.Bits("emon_mode", wire.U64, 1),
		wire.Bits("debug_inject", wire.U64, 1),
		wire.Bits("virt_phys_translation", wire.U64, 1),
		wire.Bits("enable_p_state", wire.U64, 1),
		wire.Bits("enable_cp_mode", wire.U64, 1),
		wire.Bits("read_pstate_msrs", wire.U64, 1),
		wire.Bits("use_pcl", wire.U64, 1),
		wire.Bits("enable_ebc", wire.U64, 1),
		wire.Bits("enable_tbc", wire.U64, 1),
		wire.Bits("ds_area_available", wire.U64, 1),
		wire.Bits("per_cpu_tsc", wire.U64, 1),
		wire.Bits("reserved_field1", wire.U64, 48),
		wire.Uint64("target_pid"),
		wire.Uint32("os_of_interest"),
		wire.Uint16("unc_timer_interval"),
		wire.Uint16("unc_em_factor"),
		wire.Int32("p_state_trigger_index"),
		wire.Uint32("multi_pebs_enabled"),
		slot,
		wire.Uint32("reserved3"),
		wire.Uint64("reserved4"),
		wire.Uint64("reserved5"),
		wire.Uint64("reserved6"),
	)
}

// V3 is the schema of protocol version 3.
var V3 = shared(Schema{
	FirstCommunicationMsg: wire.NewLayout("FirstCommunicationMsg",
		wire.Uint32("proto_version").WithDefault(3),
		wire.Uint32("per_cpu_buffer_size"),
		wire.Uint64("reserved1"),
		wire.Uint64("reserved2"),
	),
	ControlMsg: wire.NewLayout("ControlMsg",
		wire.Uint32("proto_version").WithDefault(3),
		wire.Uint32("command_id"),
		wire.Uint64("to_target_data_size"),
		wire.Uint64("from_target_data_size"),
	),
	TargetStatusMsg: wire.NewLayout("TargetStatusMsg",
		wire.Uint32("status"),
		wire.Uint32("proto_version"),
		wire.Nested("remote_os_info", RemoteOsInfo),
		wire.Nested("remote_switch", RemoteSwitch),
		wire.Nested("remote_hardware_info", RemoteHardwareInfo),
	),
	SetupInfo: wire.NewLayout("SetupInfo", setupInfoBits()...),
	DrvConfig: drvConfig(wire.Uint32("reserved2")),
})

// V6 is the schema of protocol version 6.
var V6 = shared(Schema{
	FirstCommunicationMsg: wire.NewLayout("FirstCommunicationMsg",
		wire.Uint32("msg_size").WithDefault(24),
		wire.Uint32("proto_version").WithDefault(6),
		wire.Uint32("per_cpu_buffer_size"),
		wire.Uint32("reserved1"),
		wire.Uint64("reserved2"),
	),
	ControlMsg: wire.NewLayout("ControlMsg",
		wire.Uint32("header_size").WithDefault(48),
		wire.Uint32("proto_version").WithDefault(6),
		wire.Uint32("command_id"),
		wire.Int32("status"),
		wire.Uint64("to_target_data_size"),
		wire.Uint64("from_target_data_size"),
		wire.Uint64("reserved1"),
		wire.Uint64("reserved2"),
	),
	TargetStatusMsg: wire.NewLayout("TargetStatusMsg",
		wire.Uint32("msg_size"),
		wire.Uint32("proto_version"),
		wire.Int32("status"),
		wire.Uint32("reserved1"),
		wire.Uint64("reserved2"),
		wire.Uint32("os_info_offset"),
		wire.Uint32("os_info_size"),
		wire.Uint32("collect_switch_offset"),
		wire.Uint32("collect_switch_size"),
		wire.Uint32("hardware_info_offset"),
		wire.Uint32("hardware_info_size"),
		wire.Nested("remote_os_info", RemoteOsInfo),
		wire.Nested("remote_switch", RemoteSwitch),
		wire.Nested("remote_hardware_info", RemoteHardwareInfo),
	),
	SetupInfo: wire.NewLayout("SetupInfo", setupInfoBits(wire.Bits("core_event_mux_unavailable", wire.U64, 1))...),
	DrvConfig: drvConfig(wire.Int32("emon_timer_interval")),
})
