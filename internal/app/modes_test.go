package app

import (
	"errors"
	"testing"

	"classpace-sync-service/internal/domain"
)

func TestRolePermissionMatrix(t *testing.T) {
	teacherEvents := []string{
		domain.EventNavigate,
		domain.EventClearConfusion,
		domain.EventSetMode,
		domain.EventSetCheckpoints,
		domain.EventSetLock,
		domain.EventStartPresentation,
		domain.EventEndSession,
	}
	studentEvents := []string{
		domain.EventStudentNavigate,
		domain.EventConfusionToggle,
		domain.EventCompleteItem,
		domain.EventSubmitAnswer,
	}
	roles := []domain.Role{domain.RoleTeacher, domain.RoleStudent, domain.RoleProjector, domain.RoleMonitor}

	for _, evt := range teacherEvents {
		for _, role := range roles {
			got := roleAllowed(evt, role)
			want := role == domain.RoleTeacher
			if got != want {
				t.Fatalf("roleAllowed(%s, %s) = %v, want %v", evt, role, got, want)
			}
		}
	}
	for _, evt := range studentEvents {
		for _, role := range roles {
			got := roleAllowed(evt, role)
			want := role == domain.RoleStudent
			if got != want {
				t.Fatalf("roleAllowed(%s, %s) = %v, want %v", evt, role, got, want)
			}
		}
	}
}

func TestNextCheckpoint(t *testing.T) {
	cases := []struct {
		checkpoints []int
		teacherPos  int
		want        int
	}{
		{nil, 1, 0},
		{[]int{3}, 1, 3},
		{[]int{3}, 3, 3},
		{[]int{3}, 4, 0},
		{[]int{3, 6}, 4, 6},
		{[]int{3, 6}, 7, 0},
	}
	for _, c := range cases {
		if got := nextCheckpoint(c.checkpoints, c.teacherPos); got != c.want {
			t.Fatalf("nextCheckpoint(%v, %d) = %d, want %d", c.checkpoints, c.teacherPos, got, c.want)
		}
	}
}

func TestStudentNavErrorAcrossModes(t *testing.T) {
	modes := []domain.Mode{domain.ModeTeacherPaced, domain.ModeStudentPaced, domain.ModeBounded}

	// Locked screen always wins, regardless of mode.
	for _, mode := range modes {
		if err := studentNavError(mode, true, nil, 1, 2); !errors.Is(err, domain.ErrNotPermitted) {
			t.Fatalf("mode %s locked: expected ErrNotPermitted, got %v", mode, err)
		}
	}

	if err := studentNavError(domain.ModeTeacherPaced, false, nil, 1, 2); !errors.Is(err, domain.ErrNotPermitted) {
		t.Fatalf("teacher-paced: expected ErrNotPermitted, got %v", err)
	}
	if err := studentNavError(domain.ModeStudentPaced, false, nil, 1, 9); err != nil {
		t.Fatalf("student-paced: expected free navigation, got %v", err)
	}

	// Bounded: free up to the nearest unacknowledged checkpoint.
	if err := studentNavError(domain.ModeBounded, false, []int{3}, 1, 3); err != nil {
		t.Fatalf("bounded to checkpoint: expected allowed, got %v", err)
	}
	if err := studentNavError(domain.ModeBounded, false, []int{3}, 1, 4); !errors.Is(err, domain.ErrNotPermitted) {
		t.Fatalf("bounded past checkpoint: expected ErrNotPermitted, got %v", err)
	}
	// Teacher advanced past the checkpoint: it is acknowledged.
	if err := studentNavError(domain.ModeBounded, false, []int{3}, 4, 4); err != nil {
		t.Fatalf("bounded after teacher advance: expected allowed, got %v", err)
	}
	// No checkpoints at all means no bound.
	if err := studentNavError(domain.ModeBounded, false, nil, 1, 9); err != nil {
		t.Fatalf("bounded without checkpoints: expected allowed, got %v", err)
	}
}
