package protocol

import "fmt"

// Command is a control command id understood by the driver.
type Command uint32

const (
	CmdStart                      Command = 1
	CmdStop                       Command = 2
	CmdInitPMU                    Command = 3
	CmdInit                       Command = 4
	CmdEMGroups                   Command = 5
	CmdSetCPUMask                 Command = 17
	CmdPCIRead                    Command = 18
	CmdPCIWrite                   Command = 19
	CmdReadPCIConfig              Command = 20
	CmdFDPhys                     Command = 21
	CmdWritePCIConfig             Command = 22
	CmdInsertMarker               Command = 23
	CmdGetNormalizedTSC           Command = 24
	CmdEMConfigNext               Command = 25
	CmdSysConfig                  Command = 26
	CmdTSCSkewInfo                Command = 27
	CmdNumCores                   Command = 28
	CmdCollectSysConfig           Command = 29
	CmdGetSysConfig               Command = 30
	CmdPause                      Command = 31
	CmdResume                     Command = 32
	CmdSetAsyncEvent              Command = 33
	CmdAsyncStop                  Command = 34
	CmdTerminate                  Command = 35
	CmdReadMSRs                   Command = 36
	CmdLBRInfo                    Command = 37
	CmdReserve                    Command = 38
	CmdMark                       Command = 39
	CmdAwaitStop                  Command = 40
	CmdSeedName                   Command = 41
	CmdKernelCS                   Command = 42
	CmdSetUID                     Command = 43
	CmdVersion                    Command = 51
	CmdChipsetInit                Command = 52
	CmdGetChipsetDeviceID         Command = 53
	CmdSwitchGroup                Command = 54
	CmdGetNumCoreCtrs             Command = 55
	CmdPwrInfo                    Command = 56
	CmdNumDescriptor              Command = 57
	CmdDescNext                   Command = 58
	CmdMarkOff                    Command = 59
	CmdCreateMarker               Command = 60
	CmdGetDriverState             Command = 61
	CmdReadSwitchGroup            Command = 62
	CmdEMGroupsUnc                Command = 63
	CmdEMConfigNextUnc            Command = 64
	CmdInitUnc                    Command = 65
	CmdROInfo                     Command = 66
	CmdReadMSR                    Command = 67
	CmdWriteMSR                   Command = 68
	CmdThreadSetName              Command = 69
	CmdGetPlatformInfo            Command = 70
	CmdGetNormalizedTSCStandalone Command = 71
	CmdReadAndReset               Command = 72
	CmdSetCPUTopology             Command = 73
	CmdInitNumDev                 Command = 74
	CmdSetGfxEvent                Command = 75
	CmdGetNumSamples              Command = 76
	CmdSetPwrEvent                Command = 77
	CmdSetDeviceNumUnits          Command = 78
	CmdTimerTriggerRead           Command = 79
	CmdGetIntervalCounts          Command = 80
	CmdFlush                      Command = 81
	CmdSetScanUncoreTopologyInfo  Command = 82
	CmdGetUncoreTopology          Command = 83
	CmdGetMarkerID                Command = 84
	CmdGetSampleDropInfo          Command = 85
	CmdGetDrvSetupInfo            Command = 86
	CmdGetPlatformTopology        Command = 87
	CmdGetThreadCount             Command = 88
	CmdGetThreadInfo              Command = 89
	CmdGetDriverLog               Command = 90
	CmdControlDriverLog           Command = 91
	CmdSetOSID                    Command = 92
	CmdGetAgentMode               Command = 93
	CmdInitDriver                 Command = 94
	CmdSetEmonBufferDriverHelper  Command = 95
)

var commandNames = map[Command]string{
	CmdStart:                      "START",
	CmdStop:                       "STOP",
	CmdInitPMU:                    "INIT_PMU",
	CmdInit:                       "INIT",
	CmdEMGroups:                   "EM_GROUPS",
	CmdSetCPUMask:                 "SET_CPU_MASK",
	CmdPCIRead:                    "PCI_READ",
	CmdPCIWrite:                   "PCI_WRITE",
	CmdReadPCIConfig:              "READ_PCI_CONFIG",
	CmdFDPhys:                     "FD_PHYS",
	CmdWritePCIConfig:             "WRITE_PCI_CONFIG",
	CmdInsertMarker:               "INSERT_MARKER",
	CmdGetNormalizedTSC:           "GET_NORMALIZED_TSC",
	CmdEMConfigNext:               "EM_CONFIG_NEXT",
	CmdSysConfig:                  "SYS_CONFIG",
	CmdTSCSkewInfo:                "TSC_SKEW_INFO",
	CmdNumCores:                   "NUM_CORES",
	CmdCollectSysConfig:           "COLLECT_SYS_CONFIG",
	CmdGetSysConfig:               "GET_SYS_CONFIG",
	CmdPause:                      "PAUSE",
	CmdResume:                     "RESUME",
	CmdSetAsyncEvent:              "SET_ASYNC_EVENT",
	CmdAsyncStop:                  "ASYNC_STOP",
	CmdTerminate:                  "TERMINATE",
	CmdReadMSRs:                   "READ_MSRS",
	CmdLBRInfo:                    "LBR_INFO",
	CmdReserve:                    "RESERVE",
	CmdMark:                       "MARK",
	CmdAwaitStop:                  "AWAIT_STOP",
	CmdSeedName:                   "SEED_NAME",
	CmdKernelCS:                   "KERNEL_CS",
	CmdSetUID:                     "SET_UID",
	CmdVersion:                    "VERSION",
	CmdChipsetInit:                "CHIPSET_INIT",
	CmdGetChipsetDeviceID:         "GET_CHIPSET_DEVICE_ID",
	CmdSwitchGroup:                "SWITCH_GROUP",
	CmdGetNumCoreCtrs:             "GET_NUM_CORE_CTRS",
	CmdPwrInfo:                    "PWR_INFO",
	CmdNumDescriptor:              "NUM_DESCRIPTOR",
	CmdDescNext:                   "DESC_NEXT",
	CmdMarkOff:                    "MARK_OFF",
	CmdCreateMarker:               "CREATE_MARKER",
	CmdGetDriverState:             "GET_DRIVER_STATE",
	CmdReadSwitchGroup:            "READ_SWITCH_GROUP",
	CmdEMGroupsUnc:                "EM_GROUPS_UNC",
	CmdEMConfigNextUnc:            "EM_CONFIG_NEXT_UNC",
	CmdInitUnc:                    "INIT_UNC",
	CmdROInfo:                     "RO_INFO",
	CmdReadMSR:                    "READ_MSR",
	CmdWriteMSR:                   "WRITE_MSR",
	CmdThreadSetName:              "THREAD_SET_NAME",
	CmdGetPlatformInfo:            "GET_PLATFORM_INFO",
	CmdGetNormalizedTSCStandalone: "GET_NORMALIZED_TSC_STANDALONE",
	CmdReadAndReset:               "READ_AND_RESET",
	CmdSetCPUTopology:             "SET_CPU_TOPOLOGY",
	CmdInitNumDev:                 "INIT_NUM_DEV",
	CmdSetGfxEvent:                "SET_GFX_EVENT",
	CmdGetNumSamples:              "GET_NUM_SAMPLES",
	CmdSetPwrEvent:                "SET_PWR_EVENT",
	CmdSetDeviceNumUnits:          "SET_DEVICE_NUM_UNITS",
	CmdTimerTriggerRead:           "TIMER_TRIGGER_READ",
	CmdGetIntervalCounts:          "GET_INTERVAL_COUNTS",
	CmdFlush:                      "FLUSH",
	CmdSetScanUncoreTopologyInfo:  "SET_SCAN_UNCORE_TOPOLOGY_INFO",
	CmdGetUncoreTopology:          "GET_UNCORE_TOPOLOGY",
	CmdGetMarkerID:                "GET_MARKER_ID",
	CmdGetSampleDropInfo:          "GET_SAMPLE_DROP_INFO",
	CmdGetDrvSetupInfo:            "GET_DRV_SETUP_INFO",
	CmdGetPlatformTopology:        "GET_PLATFORM_TOPOLOGY",
	CmdGetThreadCount:             "GET_THREAD_COUNT",
	CmdGetThreadInfo:              "GET_THREAD_INFO",
	CmdGetDriverLog:               "GET_DRIVER_LOG",
	CmdControlDriverLog:           "CONTROL_DRIVER_LOG",
	CmdSetOSID:                    "SET_OSID",
	CmdGetAgentMode:               "GET_AGENT_MODE",
	CmdInitDriver:                 "INIT_DRIVER",
	CmdSetEmonBufferDriverHelper:  "SET_EMON_BUFFER_DRIVER_HELPER",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("COMMAND(%d)", uint32(c))
}

// Commands returns every known command id in ascending order.
func Commands() []Command {
	out := make([]Command, 0, len(commandNames))
	for c := Command(1); c <= CmdSetEmonBufferDriverHelper; c++ {
		if _, ok := commandNames[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// StatusNoData is the control status the driver reports when a drop-info or
// thread-count query has nothing to return.
const StatusNoData int32 = 159

// ReportsNoData reports whether status means "no data" for cmd rather than failure.
func ReportsNoData(cmd Command, status int32) bool {
	return status == StatusNoData && (cmd == CmdGetThreadCount || cmd == CmdGetSampleDropInfo)
}
