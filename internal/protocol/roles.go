package protocol

import "fmt"

// Role is the logical domain a channel carries.
type Role int8

// Role values match the driver's data_type numbering for Module and Uncore.
const (
	RoleNone    Role = -2
	RoleControl Role = -1
	RoleCore    Role = 0
	RoleModule  Role = 1
	RoleUncore  Role = 2
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "NONE"
	case RoleControl:
		return "CONTROL"
	case RoleCore:
		return "CORE"
	case RoleModule:
		return "MODULE"
	case RoleUncore:
		return "UNCORE"
	default:
		return fmt.Sprintf("ROLE(%d)", int8(r))
	}
}

// RoleFromDataType maps the data_type announced by a data channel's first
// message to a role. Any other type returns RoleNone.
func RoleFromDataType(dataType uint16) Role {
	switch dataType {
	case uint16(RoleModule):
		return RoleModule
	case uint16(RoleUncore):
		return RoleUncore
	default:
		return RoleNone
	}
}
