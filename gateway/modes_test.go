// released under the MIT license

package gateway

import (
	"reflect"
	"testing"
)

func TestParseChannelModeChanges(t *testing.T) {
	caps := NewCapabilities()

	cases := []struct {
		name   string
		params []string
		want   []ModeChange
	}{
		{
			"membership grant consumes the nickname",
			[]string{"+o", "alice"},
			[]ModeChange{{Mode: 'o', Add: true, Arg: "alice", Membership: true}},
		},
		{
			"mixed add and remove",
			[]string{"+o-v", "alice", "bob"},
			[]ModeChange{
				{Mode: 'o', Add: true, Arg: "alice", Membership: true},
				{Mode: 'v', Add: false, Arg: "bob", Membership: true},
			},
		},
		{
			"class A always takes an argument",
			[]string{"-b", "*!*@spam.example"},
			[]ModeChange{{Mode: 'b', Add: false, Arg: "*!*@spam.example"}},
		},
		{
			"class B takes an argument both ways",
			[]string{"-k", "sekrit"},
			[]ModeChange{{Mode: 'k', Add: false, Arg: "sekrit"}},
		},
		{
			"class C takes an argument only when adding",
			[]string{"+l", "25"},
			[]ModeChange{{Mode: 'l', Add: true, Arg: "25"}},
		},
		{
			"class C removal takes none",
			[]string{"-l"},
			[]ModeChange{{Mode: 'l', Add: false}},
		},
		{
			"class D never takes an argument",
			[]string{"+nt"},
			[]ModeChange{
				{Mode: 'n', Add: true},
				{Mode: 't', Add: true},
			},
		},
		{
			"arguments distribute across classes",
			[]string{"+ovm", "alice", "bob"},
			[]ModeChange{
				{Mode: 'o', Add: true, Arg: "alice", Membership: true},
				{Mode: 'v', Add: true, Arg: "bob", Membership: true},
				{Mode: 'm', Add: true},
			},
		},
	}

	for _, c := range cases {
		got := caps.ParseChannelModeChanges(c.params)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("%s: ParseChannelModeChanges(%v) = %+v, want %+v",
				c.name, c.params, got, c.want)
		}
	}
}

func TestParseChannelModeChangesMissingNick(t *testing.T) {
	caps := NewCapabilities()
	// a membership mode with no argument left is dropped entirely
	got := caps.ParseChannelModeChanges([]string{"+o"})
	if len(got) != 0 {
		t.Fatalf("expected no changes, got %+v", got)
	}
}
