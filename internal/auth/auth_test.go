package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AlexMickh/market-chat/pkg/apperr"
	"github.com/AlexMickh/market-chat/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func TestManager_Verify(t *testing.T) {
	c := &clock{now: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)}
	m := New("secret", time.Minute, time.Hour, WithClock(c.Now))

	pair, err := m.Issue("user-1")
	require.NoError(t, err)

	other := New("other-secret", time.Minute, time.Hour, WithClock(c.Now))
	foreign, err := other.Issue("user-1")
	require.NoError(t, err)

	tests := []struct {
		name       string
		token      string
		advance    time.Duration
		wantUser   string
		wantReason string
	}{
		{name: "good case", token: pair.Access, wantUser: "user-1"},
		{name: "missing", token: "", wantReason: events.ReasonUnauthorized},
		{name: "garbage", token: "abc.def.ghi", wantReason: events.ReasonInvalid},
		{name: "wrong secret", token: foreign.Access, wantReason: events.ReasonInvalid},
		{name: "refresh used as access", token: pair.Refresh, wantReason: events.ReasonInvalid},
		{name: "expired", token: pair.Access, advance: 2 * time.Minute, wantReason: events.ReasonExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saved := c.now
			c.now = c.now.Add(tt.advance)
			defer func() { c.now = saved }()

			got, err := m.Verify(tt.token)
			if tt.wantReason != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantReason, Reason(err))
				assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, got)
		})
	}
}

func TestManager_Refresh(t *testing.T) {
	c := &clock{now: time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)}
	m := New("secret", time.Minute, time.Hour, WithClock(c.Now))

	pair, err := m.Issue("user-1")
	require.NoError(t, err)

	c.now = c.now.Add(10 * time.Minute)
	_, err = m.Verify(pair.Access)
	require.ErrorIs(t, err, ErrTokenExpired)

	fresh, err := m.Refresh(pair.Refresh)
	require.NoError(t, err)

	user, err := m.Verify(fresh.Access)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user)

	_, err = m.Refresh(fresh.Access)
	assert.ErrorIs(t, err, ErrInvalidToken)

	c.now = c.now.Add(2 * time.Hour)
	_, err = m.Refresh(pair.Refresh)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{name: "bearer", target: "/socket-message", header: "Bearer abc", want: "abc"},
		{name: "query", target: "/socket-message?token=xyz", want: "xyz"},
		{name: "header wins", target: "/socket-message?token=xyz", header: "Bearer abc", want: "abc"},
		{name: "none", target: "/socket-message", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, FromRequest(r))
		})
	}
}
