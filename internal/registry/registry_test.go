package registry

import (
	"errors"
	"slices"
	"testing"

	"pushcron/internal/config"
	"pushcron/internal/dispatch"
)

func msg(title, body string) config.MessageConfig {
	return config.MessageConfig{Title: title, Body: body}
}

func TestLoadSkipsOnlyBrokenJobs(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{Timezone: "Asia/Kolkata"},
		Pools: map[string][]config.MessageConfig{
			"tips":  {msg("T1", "B1"), msg("T2", "B2")},
			"empty": {},
		},
		Jobs: []config.JobConfig{
			{Name: "daily_tip", Schedule: "0 9 * * *", Pool: "tips"},
			{Name: "empty_pool", Schedule: "0 9 * * *", Pool: "empty"},
			{Name: "bad_cron", Schedule: "99 * * * *", Messages: []config.MessageConfig{msg("T", "B")}},
			{Name: "evening", Schedule: "0 20 * * *", Timezone: "UTC", Messages: []config.MessageConfig{msg("E", "R")}},
			{Name: "off", Schedule: "bogus", Disabled: true},
			{Name: "test_all_users", Messages: []config.MessageConfig{msg("Test", "Body")}},
		},
	}

	reg, errs := Load(cfg)
	if got, want := reg.Names(), []string{"daily_tip", "evening", "test_all_users"}; !slices.Equal(got, want) {
		t.Fatalf("Names = %v, want %v", got, want)
	}
	if len(errs) != 2 {
		t.Fatalf("errors = %v, want 2", errs)
	}
	for _, err := range errs {
		var ce *dispatch.ConfigurationError
		if !errors.As(err, &ce) {
			t.Fatalf("error %T is not a ConfigurationError", err)
		}
	}

	daily, _ := reg.Lookup("daily_tip")
	if daily.Rule.Location.String() != "Asia/Kolkata" || daily.Pool.Len() != 2 {
		t.Fatalf("daily_tip = %+v", daily)
	}
	evening, _ := reg.Lookup("evening")
	if evening.Rule.Location.String() != "UTC" {
		t.Fatalf("evening timezone = %v, want UTC", evening.Rule.Location)
	}
	adhoc, _ := reg.Lookup("test_all_users")
	if adhoc.Scheduled {
		t.Fatal("job without schedule should be on-demand only")
	}
	if got := len(reg.Scheduled()); got != 2 {
		t.Fatalf("Scheduled = %d, want 2", got)
	}
}

func TestLoadRejectsConfigurationErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		job  config.JobConfig
	}{
		{name: "no name", job: config.JobConfig{Messages: []config.MessageConfig{msg("T", "B")}}},
		{name: "no content", job: config.JobConfig{Name: "x"}},
		{name: "empty title", job: config.JobConfig{Name: "x", Messages: []config.MessageConfig{msg("", "B")}}},
		{name: "pool and messages", job: config.JobConfig{Name: "x", Pool: "p", Messages: []config.MessageConfig{msg("T", "B")}}},
		{name: "unknown pool", job: config.JobConfig{Name: "x", Pool: "missing"}},
		{name: "bad timezone", job: config.JobConfig{Name: "x", Schedule: "0 9 * * *", Timezone: "Nowhere/City", Messages: []config.MessageConfig{msg("T", "B")}}},
		{name: "bad channel", job: config.JobConfig{Name: "x", Messages: []config.MessageConfig{msg("T", "B")}, Target: config.TargetConfig{Channel: "all users"}}},
		{name: "unknown policy", job: config.JobConfig{Name: "x", Messages: []config.MessageConfig{msg("T", "B")}, Target: config.TargetConfig{Policy: "random"}}},
		{name: "scheduled caller supplied", job: config.JobConfig{Name: "x", Schedule: "@daily", Messages: []config.MessageConfig{msg("T", "B")}, Target: config.TargetConfig{Policy: PolicyCallerSupplied}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reg, errs := Load(&config.Config{Jobs: []config.JobConfig{tt.job}})
			if reg.Len() != 0 {
				t.Fatalf("Len = %d, want 0", reg.Len())
			}
			var ce *dispatch.ConfigurationError
			if len(errs) != 1 || !errors.As(errs[0], &ce) {
				t.Fatalf("errors = %v, want one ConfigurationError", errs)
			}
		})
	}
}

func TestDuplicateNames(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Jobs: []config.JobConfig{
		{Name: "a", Messages: []config.MessageConfig{msg("T", "B")}},
		{Name: "a", Messages: []config.MessageConfig{msg("T2", "B2")}},
	}}
	reg, errs := Load(cfg)
	if reg.Len() != 1 || len(errs) != 1 {
		t.Fatalf("Len = %d, errors = %v; want 1 job and 1 error", reg.Len(), errs)
	}
	j, _ := reg.Lookup("a")
	if j.Pool.At(0).Title != "T" {
		t.Fatal("first definition should win")
	}
}

func TestPolicies(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Jobs: []config.JobConfig{
		{Name: "bc", Messages: []config.MessageConfig{msg("T", "B")}},
		{Name: "cs", Messages: []config.MessageConfig{msg("T", "B")}, Target: config.TargetConfig{Policy: PolicyCallerSupplied, Channel: "everyone", ScopedPrefix: "member_"}},
	}}
	reg, errs := Load(cfg)
	if len(errs) != 0 {
		t.Fatalf("errors = %v", errs)
	}

	bc, _ := reg.Lookup("bc")
	got, err := bc.Policy.Resolve(dispatch.RequestContext{EntityID: "9"})
	if err != nil || got != dispatch.Broadcast(config.DefaultBroadcastChannel) {
		t.Fatalf("broadcast Resolve = %v, %v", got, err)
	}

	cs, _ := reg.Lookup("cs")
	got, err = cs.Policy.Resolve(dispatch.RequestContext{EntityID: "9"})
	if err != nil || got.Channel != "member_9" {
		t.Fatalf("caller supplied Resolve = %v, %v", got, err)
	}
	got, _ = cs.Policy.Resolve(dispatch.RequestContext{})
	if got != dispatch.Broadcast("everyone") {
		t.Fatalf("caller supplied Resolve without id = %v", got)
	}
}

func TestSharedPoolIsCopiedPerJob(t *testing.T) {
	t.Parallel()
	data := map[string]string{"screen": "tips"}
	cfg := &config.Config{
		Pools: map[string][]config.MessageConfig{"p": {{Title: "T", Body: "B", Data: data}}},
		Jobs: []config.JobConfig{
			{Name: "a", Pool: "p"},
			{Name: "b", Pool: "p"},
		},
	}
	reg, _ := Load(cfg)
	data["screen"] = "changed"
	for _, name := range []string{"a", "b"} {
		j, _ := reg.Lookup(name)
		if got := j.Pool.At(0).Metadata["screen"]; got != "tips" {
			t.Fatalf("%s metadata = %q, want tips", name, got)
		}
	}
}
