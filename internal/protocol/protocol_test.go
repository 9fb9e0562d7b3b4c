package protocol

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCommandNamesAreUnique(t *testing.T) {
	cmds := Commands()
	if len(cmds) != 77 {
		t.Fatalf("expected 77 commands, got %d", len(cmds))
	}
	seen := make(map[string]Command, len(cmds))
	for _, c := range cmds {
		name := c.String()
		if strings.HasPrefix(name, "COMMAND(") {
			t.Fatalf("command %d has no name", uint32(c))
		}
		if prev, dup := seen[name]; dup {
			t.Fatalf("name %s used by %d and %d", name, prev, c)
		}
		seen[name] = c
	}
	if CmdStart.String() != "START" || CmdSetEmonBufferDriverHelper.String() != "SET_EMON_BUFFER_DRIVER_HELPER" {
		t.Fatalf("unexpected boundary names")
	}
	if got := Command(6).String(); got != "COMMAND(6)" {
		t.Fatalf("unknown command string=%q", got)
	}
}

func TestReportsNoData(t *testing.T) {
	if !ReportsNoData(CmdGetThreadCount, 159) || !ReportsNoData(CmdGetSampleDropInfo, 159) {
		t.Fatalf("expected no-data for thread count and drop info")
	}
	if ReportsNoData(CmdVersion, 159) || ReportsNoData(CmdGetSampleDropInfo, 0) {
		t.Fatalf("unexpected no-data classification")
	}
}

func TestRoleFromDataType(t *testing.T) {
	cases := map[uint16]Role{0: RoleNone, 1: RoleModule, 2: RoleUncore, 7: RoleNone}
	for dt, want := range cases {
		if got := RoleFromDataType(dt); got != want {
			t.Fatalf("data_type=%d role=%s want=%s", dt, got, want)
		}
	}
	if RoleUncore.String() != "UNCORE" || Role(9).String() != "ROLE(9)" {
		t.Fatalf("unexpected role names")
	}
}

func TestErrorKindsWrap(t *testing.T) {
	err := fmt.Errorf("%w: echo mismatch", ErrProtocol)
	if !errors.Is(err, ErrProtocol) || errors.Is(err, ErrUsage) {
		t.Fatalf("unexpected error classification: %v", err)
	}
}
