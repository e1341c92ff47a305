package prewarm

import (
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	if got, want := cfg.PoolSize, runtime.NumCPU(); got != want {
		t.Errorf("PoolSize = %d, want %d", got, want)
	}
	if cfg.TestTimeout != DefaultTestTimeout {
		t.Errorf("TestTimeout = %s, want %s", cfg.TestTimeout, DefaultTestTimeout)
	}
	if cfg.MaxRestartAttempts != DefaultMaxRestartAttempts {
		t.Errorf("MaxRestartAttempts = %d, want %d", cfg.MaxRestartAttempts, DefaultMaxRestartAttempts)
	}
	if cfg.RestartDelay != DefaultRestartDelay {
		t.Errorf("RestartDelay = %s, want %s", cfg.RestartDelay, DefaultRestartDelay)
	}
	if cfg.ExecPath != "" || len(cfg.PreloadModules) != 0 {
		t.Errorf("ExecPath/PreloadModules not empty by default: %q %v", cfg.ExecPath, cfg.PreloadModules)
	}
}

func TestConfigSettersReturnCopies(t *testing.T) {
	t.Parallel()

	base := DefaultConfig().WithExecPath("/usr/bin/python3")
	derived := base.
		WithPoolSize(7).
		WithTestTimeout(time.Second).
		WithMaxRestartAttempts(9).
		WithRestartDelay(time.Millisecond)

	if base.PoolSize == 7 || base.TestTimeout == time.Second {
		t.Error("setter mutated the base config")
	}
	if derived.PoolSize != 7 || derived.TestTimeout != time.Second ||
		derived.MaxRestartAttempts != 9 || derived.RestartDelay != time.Millisecond {
		t.Errorf("derived config = %+v", derived)
	}
	if derived.ExecPath != "/usr/bin/python3" {
		t.Errorf("ExecPath lost across setters: %q", derived.ExecPath)
	}
}

func TestWithPreloadModulesClones(t *testing.T) {
	t.Parallel()

	modules := []string{"json", "unittest"}
	cfg := DefaultConfig().WithPreloadModules(modules...)

	modules[0] = "mutated"
	if cfg.PreloadModules[0] != "json" {
		t.Errorf("PreloadModules[0] = %q, want clone unaffected by caller mutation", cfg.PreloadModules[0])
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := DefaultConfig().
		WithExecPath("/usr/bin/python3").
		WithPreloadModules("json")

	tests := []struct {
		name     string
		cfg      Config
		wantErrs []string
	}{
		{
			name: "valid",
			cfg:  valid,
		},
		{
			name:     "zero pool size",
			cfg:      valid.WithPoolSize(0),
			wantErrs: []string{"pool size"},
		},
		{
			name:     "negative pool size",
			cfg:      valid.WithPoolSize(-2),
			wantErrs: []string{"pool size"},
		},
		{
			name:     "empty exec path",
			cfg:      valid.WithExecPath(""),
			wantErrs: []string{"executable path"},
		},
		{
			name:     "zero timeout",
			cfg:      valid.WithTestTimeout(0),
			wantErrs: []string{"test timeout"},
		},
		{
			name:     "negative restart delay",
			cfg:      valid.WithRestartDelay(-time.Second),
			wantErrs: []string{"restart delay"},
		},
		{
			name:     "empty preload module",
			cfg:      valid.WithPreloadModules("json", ""),
			wantErrs: []string{"preload module 1"},
		},
		{
			name: "multiple violations reported together",
			cfg:  Config{},
			wantErrs: []string{
				"pool size",
				"executable path",
				"test timeout",
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if len(tt.wantErrs) == 0 {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			for _, want := range tt.wantErrs {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("Validate() = %q, missing %q", err, want)
				}
			}
		})
	}
}
