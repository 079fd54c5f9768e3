package capability

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"teacher-agent/internal/domain"
)

func TestHeuristicCounter(t *testing.T) {
	assert.Equal(t, 0, HeuristicCounter{}.Count(""))
	assert.Equal(t, 1, HeuristicCounter{}.Count("abc"))
	assert.Equal(t, 2, HeuristicCounter{}.Count("abcde"))
}

func TestHistoryWindowKeepsRecentSuffix(t *testing.T) {
	turn := func(role domain.Role, n int) domain.ConversationTurn {
		return domain.NewTextTurn(role, strings.Repeat("x", n*4))
	}
	history := []domain.ConversationTurn{
		turn(domain.RoleUser, 10),
		turn(domain.RoleModel, 10),
		{Role: domain.RoleModel, Text: "partial", Partial: true},
		turn(domain.RoleUser, 5),
		turn(domain.RoleModel, 5),
	}

	w := NewHistoryWindow(HeuristicCounter{}, 12)
	got := w.Apply(history)
	assert.Len(t, got, 2)
	assert.Len(t, got[0].Text, 20)

	all := NewHistoryWindow(nil, 0).Apply(history)
	assert.Len(t, all, 4, "partial turns are always dropped")

	var nilWindow *HistoryWindow
	assert.Len(t, nilWindow.Apply(history), 4)
}

func TestHistoryWindowChargesImages(t *testing.T) {
	history := []domain.ConversationTurn{
		domain.NewImageTurn("image/png", []byte{1}),
		domain.NewTextTurn(domain.RoleUser, "hi"),
	}
	got := NewHistoryWindow(HeuristicCounter{}, 100).Apply(history)
	assert.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Text)
}
