package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIssueType(t *testing.T) {
	for _, v := range []string{"", "n/a", "none"} {
		it, err := ParseIssueType(v)
		require.NoError(t, err)
		assert.Nil(t, it)
	}
	it, err := ParseIssueType("ins")
	require.NoError(t, err)
	assert.Equal(t, IssueInsurance, *it)

	_, err = ParseIssueType("billing")
	assert.Error(t, err)
}

func TestRatingCallbackRoundTrip(t *testing.T) {
	data := RatingCallbackData(42, RatingUp)
	assert.Equal(t, "rate_42_up", data)

	id, v, ok := ParseRatingCallback(data)
	require.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, RatingUp, v)

	for _, bad := range []string{"rate_42", "rate_x_up", "rate_42_meh", "history_42", "rate_-1_down"} {
		_, _, ok := ParseRatingCallback(bad)
		assert.False(t, ok, bad)
	}
}

func TestHistoryCallbackRoundTrip(t *testing.T) {
	data := HistoryCallbackData(42)
	assert.Equal(t, "history_42", data)

	id, ok := ParseHistoryCallback(data)
	require.True(t, ok)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"history_", "history_x", "history_-3", "rate_42_up"} {
		_, ok := ParseHistoryCallback(bad)
		assert.False(t, ok, bad)
	}
}

func TestQuickReplyValidate(t *testing.T) {
	q := QuickReply{Title: "Hello", Text: "How can we help?", Color: "green"}
	assert.NoError(t, q.Validate())

	bad := q
	bad.Color = "orange"
	assert.Error(t, bad.Validate())

	bad = q
	bad.Title = strings.Repeat("я", QuickReplyTitleMax)
	assert.NoError(t, bad.Validate(), "limits count runes, not bytes")
	bad.Title += "я"
	assert.Error(t, bad.Validate())

	bad = q
	bad.Text = strings.Repeat("x", QuickReplyTextMax+1)
	assert.Error(t, bad.Validate())
}

func TestRestrictionActive(t *testing.T) {
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	later := now.Add(time.Minute)
	earlier := now.Add(-time.Minute)

	assert.True(t, (&Restriction{Kind: RestrictionBan}).Active(now), "no expiry means permanent")
	assert.True(t, (&Restriction{Kind: RestrictionMute, Until: &later}).Active(now))
	assert.False(t, (&Restriction{Kind: RestrictionMute, Until: &earlier}).Active(now))
	assert.False(t, (*Restriction)(nil).Active(now))
}

func TestTicketClone(t *testing.T) {
	emp := int64(7)
	closed := time.Now()
	orig := &Ticket{ID: 1, Status: TicketClosed, AssignedTo: &emp, ClosedAt: &closed}
	cp := orig.Clone()
	*cp.AssignedTo = 8
	assert.Equal(t, int64(7), *orig.AssignedTo)
	assert.False(t, cp.IsOpen())
}
