package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateSteps(t *testing.T) {
	s := NewState("s1", 2, nil, true)
	require.NotNil(t, s.Pause)

	step, err := s.Advance()
	require.NoError(t, err)
	assert.Equal(t, 1, step)
	step, err = s.Advance()
	require.NoError(t, err)
	assert.Equal(t, 2, step)
	assert.True(t, s.Exhausted())

	_, err = s.Advance()
	assert.Error(t, err)
	assert.Equal(t, 2, s.StepCount)
}

func TestStateHistory(t *testing.T) {
	s := NewState("s1", 5, nil, false)
	s.Seed("you drive a phone")
	s.AppendUser("task\n\nscreen", "data:image/png;base64,AAAA")
	snap := s.Snapshot()
	s.StripLastUserImages()
	s.AppendAssistant("<answer>do(action=Back)</answer>")

	require.Len(t, s.History, 3)
	assert.Equal(t, RoleSystem, s.History[0].Role)
	assert.Nil(t, s.History[1].Images)
	assert.Equal(t, RoleAssistant, s.History[2].Role)
	assert.Equal(t, []string{"data:image/png;base64,AAAA"}, snap[1].Images, "snapshot is independent")

	s.AppendUser("screen 2", "img2")
	s.AppendAssistant("a2")
	s.StripLastUserImages()
	assert.Nil(t, s.History[3].Images)
}
