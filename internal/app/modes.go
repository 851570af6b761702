package app

import "classpace-sync-service/internal/domain"

// eventRoles is the role side of the permission matrix: which role may
// originate which event type. The mode side lives in studentNavError.
var eventRoles = map[string]domain.Role{
	domain.EventNavigate:          domain.RoleTeacher,
	domain.EventClearConfusion:    domain.RoleTeacher,
	domain.EventSetMode:           domain.RoleTeacher,
	domain.EventSetCheckpoints:    domain.RoleTeacher,
	domain.EventSetLock:           domain.RoleTeacher,
	domain.EventStartPresentation: domain.RoleTeacher,
	domain.EventEndSession:        domain.RoleTeacher,
	domain.EventStudentNavigate:   domain.RoleStudent,
	domain.EventConfusionToggle:   domain.RoleStudent,
	domain.EventCompleteItem:      domain.RoleStudent,
	domain.EventSubmitAnswer:      domain.RoleStudent,
}

// roleAllowed checks the role column of the permission matrix.
func roleAllowed(eventType string, role domain.Role) bool {
	want, ok := eventRoles[eventType]
	return ok && role == want
}

// nextCheckpoint returns the nearest checkpoint the teacher has not yet
// advanced past: the smallest checkpoint >= teacherPos. Zero means no bound.
// checkpoints must be sorted ascending.
func nextCheckpoint(checkpoints []int, teacherPos int) int {
	for _, c := range checkpoints {
		if c >= teacherPos {
			return c
		}
	}
	return 0
}

// studentNavError decides whether a student may move to target given the
// current mode, lock flag, checkpoint set and teacher position. A locked
// screen always wins, regardless of mode.
func studentNavError(mode domain.Mode, locked bool, checkpoints []int, teacherPos, target int) error {
	if locked {
		return domain.ErrNotPermitted
	}
	switch mode {
	case domain.ModeTeacherPaced:
		// Students are pinned to the teacher's position.
		return domain.ErrNotPermitted
	case domain.ModeStudentPaced:
		return nil
	case domain.ModeBounded:
		if bound := nextCheckpoint(checkpoints, teacherPos); bound > 0 && target > bound {
			return domain.ErrNotPermitted
		}
		return nil
	default:
		return domain.ErrNotPermitted
	}
}
