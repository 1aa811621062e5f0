package orchestrate

import (
	"context"
	"errors"
	"testing"

	"github.com/parcelworks/refgateway/internal/config"
	"github.com/parcelworks/refgateway/internal/refdata"
)

// stubbed returns an orchestrator whose steps record their invocation order
// instead of touching a database.
func stubbed(calls *[]string, failAt string) *Orchestrator {
	step := func(name string) func(context.Context) (refdata.LoadRun, error) {
		return func(context.Context) (refdata.LoadRun, error) {
			*calls = append(*calls, name)
			if name == failAt {
				return refdata.LoadRun{Stage: name, Outcome: refdata.OutcomeFailed}, errors.New(name + " boom")
			}
			return refdata.LoadRun{Stage: name, Outcome: refdata.OutcomeSuccess}, nil
		}
	}

	o := &Orchestrator{cfg: config.Config{}}
	o.migrate = func(context.Context) error {
		*calls = append(*calls, "migrate")
		if failAt == "migrate" {
			return errors.New("migrate boom")
		}
		return nil
	}
	o.loadCountries = step("countries")
	o.loadESD = step("esd")
	o.loadPostal = func(ctx context.Context, _ refdata.PostalOptions) (refdata.LoadRun, error) {
		return step("postal_map")(ctx)
	}
	return o
}

func TestRunAll_Order(t *testing.T) {
	var calls []string
	res, err := stubbed(&calls, "").RunAll(context.Background(), Options{})
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}

	want := []string{"migrate", "countries", "esd", "postal_map"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
	if len(res.Runs) != 3 {
		t.Errorf("recorded %d runs, want 3", len(res.Runs))
	}
}

func TestRunAll_SkipFlags(t *testing.T) {
	var calls []string
	_, err := stubbed(&calls, "").RunAll(context.Background(), Options{
		SkipMigrate: true,
		SkipESD:     true,
	})
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}

	for _, c := range calls {
		if c == "migrate" || c == "esd" {
			t.Errorf("skipped stage %q still ran: %v", c, calls)
		}
	}
	if len(calls) != 2 {
		t.Errorf("calls = %v, want countries and postal_map only", calls)
	}
}

func TestRunAll_StopsAtFirstFailure(t *testing.T) {
	var calls []string
	res, err := stubbed(&calls, "esd").RunAll(context.Background(), Options{})
	if err == nil {
		t.Fatal("RunAll succeeded despite esd failure")
	}

	for _, c := range calls {
		if c == "postal_map" {
			t.Errorf("postal_map ran after esd failed: %v", calls)
		}
	}
	// The failing run is still reported.
	if len(res.Runs) != 2 || res.Runs[1].Outcome != refdata.OutcomeFailed {
		t.Errorf("runs = %+v, want countries then failed esd", res.Runs)
	}
}

func TestRunAll_MigrateFailureIsFatal(t *testing.T) {
	var calls []string
	_, err := stubbed(&calls, "migrate").RunAll(context.Background(), Options{})
	if err == nil {
		t.Fatal("RunAll succeeded despite migrate failure")
	}
	if len(calls) != 1 {
		t.Errorf("calls = %v, want migrate only", calls)
	}
}

func TestRunAll_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls []string
	o := stubbed(&calls, "")
	// Migration runs before the per-stage cancellation check, so skip it to
	// observe the check itself.
	_, err := o.RunAll(ctx, Options{SkipMigrate: true})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(calls) != 0 {
		t.Errorf("stages ran under a canceled context: %v", calls)
	}
}

func TestPostalOptions_ConfigDefaults(t *testing.T) {
	cfg := config.Config{}
	cfg.Loader = config.LoaderConfig{
		BatchSize:     500,
		QueueDepth:    4,
		CommitTimeout: 30_000_000_000,
		RejectMaxPct:  10,
		RejectMinRows: 100,
		CommitRetries: 2,
	}
	cfg.Reference.PostalFile = "reference/postal.csv"
	o := &Orchestrator{cfg: cfg}

	p := o.postalOptions(Options{})
	if p.File != "reference/postal.csv" || p.BatchSize != 500 || p.QueueDepth != 4 ||
		p.RejectMaxPct != 10 || p.RejectMinRows != 100 || p.CommitRetries != 2 {
		t.Errorf("config defaults not applied: %+v", p)
	}

	// Per-run values win over config.
	p = o.postalOptions(Options{Postal: refdata.PostalOptions{File: "/tmp/other.csv", BatchSize: 100}})
	if p.File != "/tmp/other.csv" || p.BatchSize != 100 {
		t.Errorf("per-run values overridden: %+v", p)
	}
}
