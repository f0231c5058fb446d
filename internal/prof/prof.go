// Package prof pushes continuous profiles to a Pyroscope server.
package prof

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/linnemanlabs-api/internal/log"
	"github.com/keithlinneman/linnemanlabs-api/internal/xerrors"
)

type Options struct {
	Enabled              bool
	AppName              string
	ServerAddress        string
	BasicAuthUser        string
	BasicAuthPassword    string
	TenantID             string
	Tags                 map[string]string
	UploadRate           time.Duration
	ProfileMutexFraction int
	BlockProfileRate     int

	// OnState is told whether the profiler is running, e.g. to drive a gauge
	OnState func(active bool)
}

var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
}

// Start launches the profiler. The returned stop func is always non-nil and
// safe to call more than once, even when err != nil.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	state := func(active bool) {
		if opts.OnState != nil {
			opts.OnState(active)
		}
	}
	noop := func() {}

	if !opts.Enabled {
		L.Info(ctx, "pyroscope disabled")
		state(false)
		return noop, nil
	}

	if opts.ServerAddress == "" {
		err := xerrors.Newf("invalid server address (%q)", opts.ServerAddress)
		L.Error(ctx, err, "pyroscope options")
		state(false)
		return noop, err
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName:   opts.AppName,
		ServerAddress:     opts.ServerAddress,
		BasicAuthUser:     opts.BasicAuthUser,
		BasicAuthPassword: opts.BasicAuthPassword,
		TenantID:          opts.TenantID,
		Tags:              opts.Tags,
		UploadRate:        opts.UploadRate,
		ProfileTypes:      profileTypes,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed",
			"server_address", opts.ServerAddress,
			"app_name", opts.AppName,
		)
		state(false)
		return noop, xerrors.Wrap(err, "pyroscope start")
	}

	L.Info(ctx, "pyroscope started",
		"server_address", opts.ServerAddress,
		"app_name", opts.AppName,
	)
	state(true)

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := profiler.Stop(); err != nil {
				L.Warn(context.Background(), "pyroscope stop", "err", err)
			}
			state(false)
			L.Info(context.Background(), "pyroscope stopped",
				"server_address", opts.ServerAddress,
				"app_name", opts.AppName,
			)
		})
	}, nil
}

// VersionTags returns the static tags attached to every profile.
func VersionTags(version, commit string) map[string]string {
	tags := map[string]string{"version": version}
	if commit != "" && commit != "none" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		tags["commit"] = commit
	}
	return tags
}
