package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidEventName(t *testing.T) {
	valid := []string{"task:created", "sprint:started", "workflow:run:completed", "log-analyzer:error-found"}
	for _, name := range valid {
		assert.True(t, ValidEventName(name), name)
	}

	invalid := []string{"", "task", "Task:Created", "task:", ":created", "task:created!", "task_created:x"}
	for _, name := range invalid {
		assert.False(t, ValidEventName(name), name)
	}
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("task:created", Schema{}))
	assert.True(t, r.Known("task:created"))
	assert.False(t, r.Known("task:deleted"))

	err := r.Register("task:created", Schema{})
	assert.ErrorIs(t, err, ErrDuplicateEvent)

	err = r.Register("NotValid", Schema{})
	assert.ErrorIs(t, err, ErrInvalidEventName)

	assert.Contains(t, r.Names(), "task:created")
}

func TestRegistry_MustRegisterPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("task:created", Schema{})
	assert.Panics(t, func() { r.MustRegister("task:created", Schema{}) })
}
