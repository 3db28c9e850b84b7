package engine

import (
	"reflect"
	"testing"
)

func TestDelegatedArgv(t *testing.T) {
	cfg := Config{
		HelperPath: "/usr/local/bin/check-init",
		Delegated:  DelegatedConfig{User: "tester"},
	}
	cfg.applyDefaults()

	got := delegatedArgv(cfg)
	want := []string{"sudo", "-n", "-C", "4", "-u", "tester", "--", "/usr/local/bin/check-init"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected argv %q", got)
	}

	kill := delegatedKillArgv(cfg, 4242)
	wantKill := []string{"sudo", "-n", "-u", "tester", "--", "/bin/kill", "-KILL", "--", "-4242"}
	if !reflect.DeepEqual(kill, wantKill) {
		t.Fatalf("unexpected kill argv %q", kill)
	}

	reclaim := delegatedReclaimArgv(cfg, "/work/s1")
	wantReclaim := []string{"sudo", "-n", "-u", "tester", "--", "/bin/chmod", "-R", "a+rwX", "--", "/work/s1"}
	if !reflect.DeepEqual(reclaim, wantReclaim) {
		t.Fatalf("unexpected reclaim argv %q", reclaim)
	}
}

func TestValidateDelegated(t *testing.T) {
	cases := []struct {
		user    string
		wantErr bool
	}{
		{user: "tester"},
		{user: "", wantErr: true},
		{user: "root", wantErr: true},
	}
	for _, tc := range cases {
		err := validateDelegated(DelegatedConfig{User: tc.user})
		if (err != nil) != tc.wantErr {
			t.Fatalf("user %q: err=%v wantErr=%v", tc.user, err, tc.wantErr)
		}
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"":          KindDirect,
		"direct":    KindDirect,
		"Delegated": KindDelegated,
		"docker":    KindContainer,
		"container": KindContainer,
	}
	for raw, want := range cases {
		got, err := ParseKind(raw)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseKind("chroot"); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
