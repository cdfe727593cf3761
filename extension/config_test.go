package extension

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/credits"
	"github.com/xraph/credits/account"
	audithook "github.com/xraph/credits/audit_hook"
	"github.com/xraph/credits/store/memory"
)

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{})
	if cfg.StartingCredits != 50 {
		t.Errorf("StartingCredits = %d, want 50", cfg.StartingCredits)
	}
	if cfg.AuditBufferSize != 256 {
		t.Errorf("AuditBufferSize = %d, want 256", cfg.AuditBufferSize)
	}

	cfg = mergeWithDefaults(Config{StartingCredits: 10, AuditBufferSize: -1})
	if cfg.StartingCredits != 10 || cfg.AuditBufferSize != -1 {
		t.Errorf("explicit values overwritten: %+v", cfg)
	}
}

func TestMergeConfigurations(t *testing.T) {
	yaml := Config{
		StartingCredits: 100,
		Allowances:      map[string]int64{"pro": 3000},
	}
	programmatic := Config{
		DisableMigrate:  true,
		StartingCredits: 5,
		AuditBufferSize: 16,
		Allowances:      map[string]int64{"pro": 1, "starter": 700},
	}

	got := mergeConfigurations(yaml, programmatic)

	if !got.DisableMigrate {
		t.Error("programmatic DisableMigrate should be kept")
	}
	if got.StartingCredits != 100 {
		t.Errorf("StartingCredits = %d, want YAML value 100", got.StartingCredits)
	}
	if got.AuditBufferSize != 16 {
		t.Errorf("AuditBufferSize = %d, want programmatic value 16", got.AuditBufferSize)
	}
	if got.Allowances["pro"] != 3000 || got.Allowances["starter"] != 700 {
		t.Errorf("Allowances = %v", got.Allowances)
	}
}

func TestBuildEngineOpts(t *testing.T) {
	ctx := context.Background()

	var actions []string
	e := New(
		WithStore(memory.New()),
		WithConfig(Config{
			StartingCredits: 5,
			AuditBufferSize: -1,
			Allowances:      map[string]int64{"pro": 3000},
		}),
		WithAuditRecorder(audithook.RecorderFunc(func(_ context.Context, evt *audithook.AuditEvent) error {
			actions = append(actions, evt.Action)
			return nil
		})),
	)
	e.config = mergeWithDefaults(e.config)

	eng := credits.New(e.store, e.buildEngineOpts()...)
	if err := eng.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer eng.Stop() //nolint:errcheck // best-effort test cleanup

	bal, err := eng.CreateAccount(ctx, "user-1", "", credits.PlanPro)
	if err != nil {
		t.Fatal(err)
	}
	if bal.Credits != 5 {
		t.Errorf("starting credits = %d, want 5", bal.Credits)
	}

	reset, err := eng.ResetMonthlyCredits(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if reset.NewCredits != 3000 {
		t.Errorf("reset to %d, want configured allowance 3000", reset.NewCredits)
	}

	if len(actions) != 2 || actions[0] != audithook.ActionAccountCreated || actions[1] != audithook.ActionCreditsReset {
		t.Errorf("audit actions = %v", actions)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		target  error
	}{
		{"defaults", mergeWithDefaults(Config{}), false, nil},
		{"allowance override", Config{StartingCredits: 10, Allowances: map[string]int64{"pro": 3000}}, false, nil},
		{"zero allowance", Config{Allowances: map[string]int64{"free": 0}}, false, nil},
		{"negative starting credits", Config{StartingCredits: -5}, true, nil},
		{"unknown plan", Config{Allowances: map[string]int64{"platinum": 100}}, true, account.ErrInvalidAllowance},
		{"negative allowance", Config{Allowances: map[string]int64{"starter": -1}}, true, account.ErrInvalidAllowance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfig(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("expected %v, got %v", tt.target, err)
			}
		})
	}
}

func TestNegativeStartingCreditsSurvivesMerge(t *testing.T) {
	cfg := mergeWithDefaults(Config{StartingCredits: -5})
	if err := validateConfig(cfg); err == nil {
		t.Errorf("negative starting_credits accepted after merge: %+v", cfg)
	}
}
