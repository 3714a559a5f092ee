package broadcaster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderGuard(t *testing.T) {
	type step struct {
		typ   MessageType
		job   string
		block uint64
		want  bool
	}

	tests := []struct {
		name  string
		steps []step
	}{
		{
			name: "increasing progress",
			steps: []step{
				{TypeStatus, "j1", 1001, true},
				{TypeProgress, "j1", 1100, true},
				{TypeProgress, "j1", 1200, true},
				{TypeComplete, "j1", 1200, true},
			},
		},
		{
			name: "duplicate and stale progress",
			steps: []step{
				{TypeProgress, "j1", 1500, true},
				{TypeProgress, "j1", 1500, false},
				{TypeProgress, "j1", 1400, false},
				{TypeProgress, "j1", 1600, true},
			},
		},
		{
			name: "nothing after a terminal message",
			steps: []step{
				{TypeProgress, "j1", 10, true},
				{TypeError, "j1", 10, true},
				{TypeProgress, "j1", 20, false},
				{TypeComplete, "j1", 20, false},
				{TypeStatus, "j1", 20, false},
			},
		},
		{
			name: "a new job starts a new sequence",
			steps: []step{
				{TypeProgress, "j1", 1500, true},
				{TypeError, "j1", 1500, true},
				{TypeStatus, "j2", 1001, true},
				{TypeProgress, "j2", 1100, true},
				{TypeProgress, "j2", 1100, false},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g orderGuard
			for i, s := range tt.steps {
				assert.Equal(t, s.want, g.admit(s.typ, s.job, s.block), "step %d (%s %s %d)", i, s.typ, s.job, s.block)
			}
		})
	}
}
