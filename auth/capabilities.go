package auth

import (
	"dutydesk/config"
	"dutydesk/models"
)

// ResolveCapabilities derives the capability flags of a guild member from
// the ids of the roles they hold.
func ResolveCapabilities(roles config.RoleConfig, memberRoles []string) models.Capabilities {
	held := make(map[string]bool, len(memberRoles))
	for _, id := range memberRoles {
		held[id] = true
	}

	return models.Capabilities{
		IsTester: anyHeld(held, roles.TesterRoles) || holds(held, roles.AnyTesterRole),
		IsEditor: anyHeld(held, roles.EditorRoles),
		CanRadio: holds(held, roles.RadioRole),
		CanMDT:   holds(held, roles.MDTRole),
	}
}

func holds(held map[string]bool, id string) bool {
	return id != "" && held[id]
}

func anyHeld(held map[string]bool, ids []string) bool {
	for _, id := range ids {
		if holds(held, id) {
			return true
		}
	}
	return false
}
