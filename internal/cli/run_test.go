package cli

import (
	"testing"

	"github.com/spf13/viper"

	ice "gortc.io/iceagent"
)

func getViper() *viper.Viper {
	v := viper.New()
	initViper(v)
	return v
}

func TestParseOptions_Defaults(t *testing.T) {
	v := getViper()
	o := parseOptions(v)
	d := ice.DefaultOptions()
	if o.Software != d.Software {
		t.Errorf("unexpected software: %q", o.Software)
	}
	if o.MaxCheckListSize != d.MaxCheckListSize {
		t.Errorf("unexpected max check list size: %d", o.MaxCheckListSize)
	}
	if o.NominationStrategy != d.NominationStrategy {
		t.Errorf("unexpected nomination strategy: %v", o.NominationStrategy)
	}
	if o.KeepAliveStrategy != d.KeepAliveStrategy {
		t.Errorf("unexpected keep-alive strategy: %v", o.KeepAliveStrategy)
	}
}

func TestParseOptions_Overrides(t *testing.T) {
	v := getViper()
	v.Set("agent.software", "test-agent")
	v.Set("agent.max_check_list_size", 42)
	v.Set("agent.nomination_strategy", "highest_priority")
	v.Set("agent.keep_alive_strategy", "all_succeeded")
	o := parseOptions(v)
	if o.Software != "test-agent" {
		t.Errorf("unexpected software: %q", o.Software)
	}
	if o.MaxCheckListSize != 42 {
		t.Errorf("unexpected max check list size: %d", o.MaxCheckListSize)
	}
	if o.NominationStrategy != ice.NominateHighestPriority {
		t.Errorf("unexpected nomination strategy: %v", o.NominationStrategy)
	}
	if o.KeepAliveStrategy != ice.AllSucceeded {
		t.Errorf("unexpected keep-alive strategy: %v", o.KeepAliveStrategy)
	}
}

func TestParseNominationStrategy(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out ice.NominationStrategy
	}{
		{"", ice.NominateFirstValid},
		{"first_valid", ice.NominateFirstValid},
		{"highest_priority", ice.NominateHighestPriority},
		{"first_host_or_reflexive_valid", ice.NominateFirstHostOrReflexiveValid},
		{"best_rtt", ice.NominateBestRTT},
		{"none", ice.NominateNone},
		{"bogus", ice.NominateFirstValid},
	} {
		if got := parseNominationStrategy(tc.in); got != tc.out {
			t.Errorf("parseNominationStrategy(%q) = %v, want %v", tc.in, got, tc.out)
		}
	}
}

func TestParseKeepAliveStrategy(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out ice.KeepAliveStrategy
	}{
		{"", ice.SelectedOnly},
		{"selected_only", ice.SelectedOnly},
		{"all_succeeded", ice.AllSucceeded},
		{"bogus", ice.SelectedOnly},
	} {
		if got := parseKeepAliveStrategy(tc.in); got != tc.out {
			t.Errorf("parseKeepAliveStrategy(%q) = %v, want %v", tc.in, got, tc.out)
		}
	}
}

func TestApplyRemoteConfig_UnknownStream(t *testing.T) {
	agent, err := ice.NewAgent(ice.DefaultOptions(), true, ice.Credentials{Ufrag: "Lfrag", Password: "LpassLpassLpassLpassLp"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = applyRemoteConfig(agent, map[string]*ice.Stream{}, []remoteConfig{{Stream: "missing"}})
	if err == nil {
		t.Fatal("expected error for unknown stream")
	}
}

func TestApplyRemoteConfig(t *testing.T) {
	agent, err := ice.NewAgent(ice.DefaultOptions(), true, ice.Credentials{Ufrag: "Lfrag", Password: "LpassLpassLpassLpassLp"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	s := agent.AddStream("audio")
	err = applyRemoteConfig(agent, map[string]*ice.Stream{"audio": s}, []remoteConfig{
		{
			Stream:   "audio",
			Ufrag:    "Rfrag",
			Password: "RpassRpassRpassRpassRp",
			Candidates: []string{
				"a=candidate:1 1 UDP 2130706431 192.0.2.10 5000 typ host",
			},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if agent.RemoteCredentials().Ufrag != "Rfrag" {
		t.Errorf("unexpected remote ufrag: %q", agent.RemoteCredentials().Ufrag)
	}
}

func TestGetRoot(t *testing.T) {
	v := getViper()
	cmd := getRoot(v)
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Use] = true
	}
	for _, want := range []string{"run", "reload", "credentials"} {
		if !names[want] {
			t.Errorf("missing subcommand %q", want)
		}
	}
}
