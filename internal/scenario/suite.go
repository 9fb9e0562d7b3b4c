package scenario

import (
	"context"
	"fmt"
	"slices"

	"github.com/danmuck/sepprobe/internal/analyzer"
	"github.com/danmuck/sepprobe/internal/config"
	"github.com/danmuck/sepprobe/internal/protocol"
	"github.com/danmuck/sepprobe/internal/protocol/session"
)

// TSCSamples is how many timestamps GetTsc reads.
const TSCSamples = 100

// SysConfigRounds is how often a collection re-reads the system configuration
// before setup.
const SysConfigRounds = 4

// step is one named action in a scenario body.
type step struct {
	name string
	run  func() error
}

func discard[T any](f func() (T, error)) func() error {
	return func() error {
		_, err := f()
		return err
	}
}

func runSteps(env *Env, steps ...step) error {
	for _, st := range steps {
		env.Log.Debug().Str("step", st.name).Msg("step")
		if err := st.run(); err != nil {
			return fmt.Errorf("%s: %w", st.name, err)
		}
	}
	return nil
}

// single builds a scenario that runs one command and then terminates.
func single(name, desc string, op func(*session.Session) func() error) Scenario {
	return Scenario{
		Name:        name,
		Description: desc,
		Run: func(_ context.Context, env *Env) error {
			s := env.Session
			return runSteps(env,
				step{name, op(s)},
				step{"terminate", s.Terminate},
			)
		},
	}
}

// Default returns the full suite in run order.
func Default() *Registry {
	r := NewRegistry()
	for _, sc := range []Scenario{
		{
			Name:        "Terminate",
			Description: "handshake and terminate",
			Run: func(_ context.Context, env *Env) error {
				return env.Session.Terminate()
			},
		},
		single("Version", "read the driver version", func(s *session.Session) func() error {
			return discard(s.Version)
		}),
		single("SetupInfo", "read driver setup info", func(s *session.Session) func() error {
			return discard(s.SetupInfo)
		}),
		single("SysConfigSize", "collect the system configuration and read its size", func(s *session.Session) func() error {
			return discard(s.SysConfigSize)
		}),
		single("SysConfig", "collect and fetch the system configuration", func(s *session.Session) func() error {
			return discard(s.SysConfig)
		}),
		single("PlatformInfo", "read platform info", func(s *session.Session) func() error {
			return discard(s.PlatformInfo)
		}),
		single("InitNumDevice", "declare the device count", func(s *session.Session) func() error {
			return s.InitNumDevices
		}),
		single("BusyDriver", "reserve the driver", func(s *session.Session) func() error {
			return discard(s.BusyDriver)
		}),
		single("SetEventConfig", "push the core event configuration", func(s *session.Session) func() error {
			return s.SetEventConfig
		}),
		{
			Name:        "GetTsc",
			Description: "read the timestamp counter repeatedly and require it to never go back",
			Run:         getTSC,
		},
		{
			Name:        "GetThreadInfo",
			Description: "list driver threads; agents may answer with no data",
			Explicit:    true,
			Run: func(_ context.Context, env *Env) error {
				s := env.Session
				return runSteps(env,
					step{"thread_info", discard(s.ThreadInfo)},
					step{"terminate", s.Terminate},
				)
			},
		},
		{
			Name:        "GetNumCores",
			Description: "compare the reported core count with the configured one",
			Run:         getNumCores,
		},
		{
			Name:        "Collection",
			Description: "run a core sampling collection and validate hotspot and module attribution",
			Explicit:    true,
			Run:         collection(false),
		},
		{
			Name:        "UncoreCollection",
			Description: "run an uncore collection and validate counter stability",
			Explicit:    true,
			SkipReason: func(cfg config.Config) string {
				if !cfg.UncoreSupported {
					return "target does not support uncore events"
				}
				return ""
			},
			Run: collection(true),
		},
	} {
		if err := r.Register(sc); err != nil {
			panic(err)
		}
	}
	return r
}

func getTSC(_ context.Context, env *Env) error {
	s := env.Session
	values := make([]uint64, 0, TSCSamples)
	for range TSCSamples {
		v, err := s.GetTSC()
		if err != nil {
			return fmt.Errorf("get_tsc: %w", err)
		}
		values = append(values, v)
	}
	if !slices.IsSorted(values) {
		return fmt.Errorf("%w: tsc is not monotonic", protocol.ErrValidation)
	}
	return s.Terminate()
}

func getNumCores(_ context.Context, env *Env) error {
	s := env.Session
	n, err := s.NumCores()
	if err != nil {
		return fmt.Errorf("num_cores: %w", err)
	}
	if int(n) != env.Config.CoreCount {
		return fmt.Errorf("%w: target reports %d cores, expected %d", protocol.ErrValidation, n, env.Config.CoreCount)
	}
	return s.Terminate()
}

func collection(uncore bool) func(context.Context, *Env) error {
	return func(ctx context.Context, env *Env) error {
		s := env.Session
		steps := []step{
			{"set_osid", s.SetOSID},
			{"version", discard(s.Version)},
			{"setup_info", discard(s.SetupInfo)},
		}
		for range SysConfigRounds {
			steps = append(steps,
				step{"sys_config", discard(s.SysConfig)},
				step{"platform_info", discard(s.PlatformInfo)},
			)
		}
		steps = append(steps,
			step{"num_cores", discard(s.NumCores)},
			step{"read_msr", s.ReadMSR},
			step{"get_tsc", discard(s.GetTSC)},
			step{"get_tsc", discard(s.GetTSC)},
			step{"control_driver_log", s.ControlDriverLog},
			step{"init_num_devices", s.InitNumDevices},
			step{"busy_driver", discard(s.BusyDriver)},
			step{"init_driver", s.InitDriver},
			step{"set_topology", s.SetTopology},
			step{"setup_descriptors", s.SetupDescriptors},
			step{"desc_next", s.DescNext},
		)
		// An uncore collection sends the uncore descriptor second.
		if uncore {
			steps = append(steps, step{"uncore_desc_next", s.UncoreDescNext})
		} else {
			steps = append(steps, step{"desc_next", s.DescNext})
		}
		steps = append(steps,
			step{"init_device", s.InitDevice},
			step{"set_event_config", s.SetEventConfig},
			step{"set_ecb", s.SetECB},
			step{"set_device_num_units", s.SetDeviceNumUnits},
		)
		if uncore {
			steps = append(steps,
				step{"init_uncore_device", s.InitUncoreDevice},
				step{"set_uncore_event_config", s.SetUncoreEventConfig},
				step{"set_uncore_ecb", s.SetUncoreECB},
				step{"set_uncore_device_num_units", s.SetUncoreDeviceNumUnits},
			)
		}
		steps = append(steps,
			step{"get_tsc", discard(s.GetTSC)},
			step{"init_pmu", s.InitPMU},
			step{"warmup", func() error { return env.Sleep(ctx, env.Config.Warmup()) }},
			step{"start", s.Start},
			step{"collect", func() error { return env.Sleep(ctx, env.Config.Collection()) }},
			step{"stop", s.Stop},
		)
		if uncore {
			steps = append(steps,
				step{"get_tsc", discard(s.GetTSC)},
				step{"tsc_skew", discard(s.TSCSkew)},
				step{"sys_config", discard(s.SysConfig)},
				step{"platform_info", discard(s.PlatformInfo)},
				step{"num_cores", discard(s.NumCores)},
			)
		}
		steps = append(steps,
			step{"num_samples", discard(s.NumSamples)},
			step{"sample_drop_info", discard(s.SampleDropInfo)},
			step{"terminate", s.Terminate},
		)
		if err := runSteps(env, steps...); err != nil {
			return err
		}

		caps, err := s.Captures()
		if err != nil {
			return fmt.Errorf("read captures: %w", err)
		}
		if uncore {
			sum, err := analyzer.CheckUncore(caps.Uncore)
			env.Log.Info().Int("records", sum.Records).Float64("mean_delta", sum.Mean).Msg("uncore summary")
			return err
		}
		sum, err := analyzer.CheckCoreData(ctx, caps.Cores, caps.Module, analyzer.CoreCheck{
			Hotspot:   env.Config.HotspotAddress,
			Tolerance: env.Config.HotspotTolerance,
			Module:    env.Config.ModuleOfInterest,
		})
		if e := env.Log.Debug(); e.Enabled() {
			e.Interface("top_ips", sum.TopIPs(5)).Interface("by_pid", sum.ByPID).Msg("core summary")
		}
		return err
	}
}
