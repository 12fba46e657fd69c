package systemdmanager

import (
	"errors"
	"reflect"
	"testing"
)

func TestUnitName(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"nginx":             "nginx.service",
		" nginx ":           "nginx.service",
		"nginx.service":     "nginx.service",
		"backup.timer":      "backup.timer",
		"multi-user.target": "multi-user.target",
		"app.v2":            "app.v2.service",
		"":                  "",
	}
	for in, want := range cases {
		if got := UnitName(in); got != want {
			t.Fatalf("UnitName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAllowlist(t *testing.T) {
	t.Parallel()
	a := NewAllowlist([]string{"nginx", "backup.timer", " "})

	if got, want := a.Units(), []string{"backup.timer", "nginx.service"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Units() = %v, want %v", got, want)
	}
	if unit, err := a.Check("nginx.service"); err != nil || unit != "nginx.service" {
		t.Fatalf("Check(nginx.service) = %q, %v", unit, err)
	}
	if unit, err := a.Check("nginx"); err != nil || unit != "nginx.service" {
		t.Fatalf("Check(nginx) = %q, %v", unit, err)
	}
	for _, name := range []string{"sshd", "", "backup"} {
		if _, err := a.Check(name); !errors.Is(err, ErrNotManaged) {
			t.Fatalf("Check(%q) err = %v, want ErrNotManaged", name, err)
		}
	}
}

func TestParseOp(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Op{"start": OpStart, " STOP ": OpStop, "restart": OpRestart} {
		if got, err := ParseOp(in); err != nil || got != want {
			t.Fatalf("ParseOp(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseOp("reload"); !errors.Is(err, ErrUnknownOp) {
		t.Fatalf("ParseOp(reload) err = %v, want ErrUnknownOp", err)
	}
}
