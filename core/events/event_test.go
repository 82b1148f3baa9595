package events

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"loanchain/core/types"
)

type typedEvent struct{ evt *types.Event }

func (e typedEvent) EventType() string    { return e.evt.Type }
func (e typedEvent) Event() *types.Event { return e.evt }

type bareEvent string

func (e bareEvent) EventType() string { return string(e) }

func TestRecorderKeepsMostRecent(t *testing.T) {
	rec := NewRecorder(3, nil)
	for i := 1; i <= 5; i++ {
		rec.Emit(typedEvent{evt: &types.Event{Type: "loans.created", Attributes: map[string]string{"loanId": strconv.Itoa(i)}}})
	}

	recent := rec.Recent(0)
	require.Len(t, recent, 3)
	require.Equal(t, uint64(3), recent[0].Seq)
	require.Equal(t, "5", recent[2].Attributes["loanId"])

	last := rec.Recent(1)
	require.Len(t, last, 1)
	require.Equal(t, uint64(5), last[0].Seq)
}

func TestRecorderCopiesAttributes(t *testing.T) {
	rec := NewRecorder(4, nil)
	evt := &types.Event{Type: "loans.repaid", Attributes: map[string]string{"loanId": "1"}}
	rec.Emit(typedEvent{evt: evt})
	rec.Emit(bareEvent("loans.paused"))
	evt.Attributes["loanId"] = "mutated"

	recent := rec.Recent(10)
	require.Len(t, recent, 2)
	require.Equal(t, "1", recent[0].Attributes["loanId"])
	require.Equal(t, "loans.paused", recent[1].Type)
	require.Nil(t, recent[1].Attributes)
}
