package service

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/channel-router/internal/events"
	apperrors "github.com/openclaw/channel-router/internal/errors"
	"github.com/openclaw/channel-router/internal/model"
)

func intPtr(v int) *int { return &v }

func inbound(from, body string) model.InboundMessage {
	return model.InboundMessage{From: NormalizeAddress(from), Body: body, MessageSID: "SM" + uuid.NewString()}
}

func TestClampTTL(t *testing.T) {
	tests := []struct {
		name      string
		requested *int
		want      int
	}{
		{"default", nil, 15},
		{"within bounds", intPtr(30), 30},
		{"below minimum", intPtr(0), 3},
		{"negative", intPtr(-5), 3},
		{"above maximum", intPtr(999999), 240},
		{"at maximum", intPtr(240), 240},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampTTL(tt.requested))
		})
	}
}

func TestPairingCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a pending code with links", func(t *testing.T) {
		h := newHarness("")
		userID := h.store.addUser()

		view, err := h.pairing.Create(ctx, userID, CreatePairingParams{Label: "  kitchen phone "})
		require.NoError(t, err)

		assert.Regexp(t, `^OA-[A-Z0-9]{6}$`, view.Code)
		assert.Equal(t, "link "+view.Code, view.Command)
		assert.Equal(t, model.PairingStatusPending, view.Status)
		require.NotNil(t, view.Label)
		assert.Equal(t, "kitchen phone", *view.Label)
		assert.Equal(t, h.clock.Now().Add(15*time.Minute), view.ExpiresAt)

		wantLink := "https://wa.me/15550001111?text=" + url.QueryEscape(view.Command)
		assert.Equal(t, wantLink, view.DeepLinkURL)
		assert.Equal(t, "https://qr.example/?data="+url.QueryEscape(wantLink), view.QRCodeURL)

		assert.Equal(t, []string{events.TopicPairingCreated}, h.sink.topics())
	})

	t.Run("clamps the requested lifetime", func(t *testing.T) {
		h := newHarness("")
		userID := h.store.addUser()

		view, err := h.pairing.Create(ctx, userID, CreatePairingParams{ExpiresInMinutes: intPtr(999999)})
		require.NoError(t, err)
		assert.Equal(t, h.clock.Now().Add(240*time.Minute), view.ExpiresAt)

		view, err = h.pairing.Create(ctx, userID, CreatePairingParams{ExpiresInMinutes: intPtr(0)})
		require.NoError(t, err)
		assert.Equal(t, h.clock.Now().Add(3*time.Minute), view.ExpiresAt)
	})

	t.Run("requires a configured transport", func(t *testing.T) {
		h := newHarness("")
		h.transport.configured = false

		_, err := h.pairing.Create(ctx, h.store.addUser(), CreatePairingParams{})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotConfigured))
		assert.Empty(t, h.sink.topics())
	})

	t.Run("rejects an oversized label", func(t *testing.T) {
		h := newHarness("")

		_, err := h.pairing.Create(ctx, h.store.addUser(), CreatePairingParams{Label: strings.Repeat("x", 65)})
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))
	})

	t.Run("omits links when there is no sender number", func(t *testing.T) {
		h := newHarness("")
		h.transport.from = ""

		view, err := h.pairing.Create(ctx, h.store.addUser(), CreatePairingParams{})
		require.NoError(t, err)
		assert.Empty(t, view.DeepLinkURL)
		assert.Empty(t, view.QRCodeURL)
	})
}

func TestPairingListGetCancel(t *testing.T) {
	ctx := context.Background()
	h := newHarness("")
	owner := h.store.addUser()
	other := h.store.addUser()

	var created []*PairingView
	for i := 0; i < 3; i++ {
		v, err := h.pairing.Create(ctx, owner, CreatePairingParams{})
		require.NoError(t, err)
		created = append(created, v)
		h.clock.Advance(time.Second)
	}

	t.Run("list pages newest first", func(t *testing.T) {
		views, total, err := h.pairing.List(ctx, owner, nil, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, views, 2)
		assert.Equal(t, created[2].ID, views[0].ID)
		assert.Equal(t, created[1].ID, views[1].ID)
	})

	t.Run("list is scoped to the owner", func(t *testing.T) {
		views, total, err := h.pairing.List(ctx, other, nil, 50, 0)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, views)
	})

	t.Run("get hides other users' codes", func(t *testing.T) {
		_, err := h.pairing.Get(ctx, other, created[0].ID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

		_, err = h.pairing.Get(ctx, owner, uuid.NewString())
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))

		_, err = h.pairing.Get(ctx, owner, "not-a-uuid")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})

	t.Run("cancel moves pending to canceled once", func(t *testing.T) {
		_, err := h.pairing.Cancel(ctx, other, created[0].ID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

		view, err := h.pairing.Cancel(ctx, owner, created[0].ID)
		require.NoError(t, err)
		assert.Equal(t, model.PairingStatusCanceled, view.Status)

		_, err = h.pairing.Cancel(ctx, owner, created[0].ID)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition))

		status := model.PairingStatusCanceled
		views, total, err := h.pairing.List(ctx, owner, &status, 50, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Equal(t, created[0].ID, views[0].ID)
	})

	t.Run("a canceled code is not consumed", func(t *testing.T) {
		res, err := h.pairing.Consume(ctx, inbound("+15551230000", created[0].Command))
		require.NoError(t, err)
		assert.False(t, res.Consumed)
		assert.Nil(t, h.store.device("whatsapp:+15551230000"))
	})
}

func TestPairingExtractCode(t *testing.T) {
	h := newHarness("")

	tests := []struct {
		text string
		want string
	}{
		{"link OA-AB12CD", "OA-AB12CD"},
		{"hi link OA-AB12CD thanks", "OA-AB12CD"},
		{"OA-AB12CD", "OA-AB12CD"},
		{"please use oa-ab12cd", "OA-AB12CD"},
		{"link ab12cd", "OA-AB12CD"},
		{"LINK AB12CD", "OA-AB12CD"},
		{"link hello", ""},
		{"link OA-AB12", ""},
		{"hello there", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, h.pairing.ExtractCode(tt.text))
		})
	}
}

func TestPairingConsume(t *testing.T) {
	ctx := context.Background()
	phone := "whatsapp:+15551234567"

	t.Run("links the sender and replies once", func(t *testing.T) {
		h := newHarness("")
		userID := h.store.addUser()
		view, err := h.pairing.Create(ctx, userID, CreatePairingParams{})
		require.NoError(t, err)

		msg := inbound(phone, "hi "+view.Command+" thanks")
		msg.ProfileName = "Ada"
		res, err := h.pairing.Consume(ctx, msg)
		require.NoError(t, err)
		assert.True(t, res.Consumed)
		assert.Equal(t, replyPairingLinked, res.Reply)
		assert.Equal(t, userID, res.UserID)

		pc := h.store.pairing(view.ID)
		assert.Equal(t, model.PairingStatusLinked, pc.Status)
		require.NotNil(t, pc.BoundPhone)
		assert.Equal(t, phone, *pc.BoundPhone)
		require.NotNil(t, pc.LinkedAt)

		device := h.store.device(phone)
		require.NotNil(t, device)
		assert.Equal(t, userID, device.UserID)
		require.NotNil(t, device.Label)
		assert.Equal(t, "Ada", *device.Label)
		require.NotNil(t, device.LastSeenAt)
		assert.Equal(t, h.clock.Now(), *device.LastSeenAt)
		assert.Equal(t, h.clock.Now(), device.LinkedAt)

		assert.Contains(t, h.sink.topics(), events.TopicPairingLinked)
	})

	t.Run("a repeated delivery falls through", func(t *testing.T) {
		h := newHarness("")
		view, err := h.pairing.Create(ctx, h.store.addUser(), CreatePairingParams{})
		require.NoError(t, err)

		first, err := h.pairing.Consume(ctx, inbound(phone, view.Command))
		require.NoError(t, err)
		assert.True(t, first.Consumed)

		second, err := h.pairing.Consume(ctx, inbound(phone, view.Command))
		require.NoError(t, err)
		assert.False(t, second.Consumed)
	})

	t.Run("concurrent deliveries link exactly once", func(t *testing.T) {
		h := newHarness("")
		view, err := h.pairing.Create(ctx, h.store.addUser(), CreatePairingParams{})
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			consumed int
		)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := h.pairing.Consume(ctx, inbound(phone, view.Command))
				assert.NoError(t, err)
				if res.Consumed {
					mu.Lock()
					consumed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, consumed)
	})

	t.Run("an expired code gets the expiry reply", func(t *testing.T) {
		h := newHarness("")
		view, err := h.pairing.Create(ctx, h.store.addUser(), CreatePairingParams{ExpiresInMinutes: intPtr(3)})
		require.NoError(t, err)

		h.clock.Advance(4 * time.Minute)

		res, err := h.pairing.Consume(ctx, inbound(phone, view.Command))
		require.NoError(t, err)
		assert.True(t, res.Consumed)
		assert.Equal(t, replyPairingExpired, res.Reply)
		assert.Equal(t, model.PairingStatusExpired, h.store.pairing(view.ID).Status)
		assert.Nil(t, h.store.device(phone))
		assert.Contains(t, h.sink.topics(), events.TopicPairingExpired)
	})

	t.Run("expiry is exact at the deadline", func(t *testing.T) {
		h := newHarness("")
		view, err := h.pairing.Create(ctx, h.store.addUser(), CreatePairingParams{ExpiresInMinutes: intPtr(3)})
		require.NoError(t, err)

		h.clock.Advance(3 * time.Minute)

		res, err := h.pairing.Consume(ctx, inbound(phone, view.Command))
		require.NoError(t, err)
		assert.Equal(t, replyPairingExpired, res.Reply)
	})

	t.Run("a code outside the pending state is never linked", func(t *testing.T) {
		h := newHarness("")
		view, err := h.pairing.Create(ctx, h.store.addUser(), CreatePairingParams{})
		require.NoError(t, err)
		h.store.setPairingStatus(view.ID, model.PairingStatus("archived"))

		res, err := h.pairing.Consume(ctx, inbound(phone, view.Command))
		require.NoError(t, err)
		assert.False(t, res.Consumed)
		assert.Equal(t, model.PairingStatus("archived"), h.store.pairing(view.ID).Status)
		assert.Nil(t, h.store.device(phone))
		assert.NotContains(t, h.sink.topics(), events.TopicPairingLinked)
	})

	t.Run("unknown codes and plain text fall through", func(t *testing.T) {
		h := newHarness("")

		res, err := h.pairing.Consume(ctx, inbound(phone, "link OA-ZZZZZZ"))
		require.NoError(t, err)
		assert.False(t, res.Consumed)

		res, err = h.pairing.Consume(ctx, inbound(phone, "what's the weather"))
		require.NoError(t, err)
		assert.False(t, res.Consumed)
	})

	t.Run("the last link wins", func(t *testing.T) {
		h := newHarness("")
		first := h.store.addUser()
		second := h.store.addUser()

		v1, err := h.pairing.Create(ctx, first, CreatePairingParams{})
		require.NoError(t, err)
		_, err = h.pairing.Consume(ctx, inbound(phone, v1.Command))
		require.NoError(t, err)
		assert.Equal(t, first, h.store.device(phone).UserID)

		v2, err := h.pairing.Create(ctx, second, CreatePairingParams{})
		require.NoError(t, err)
		res, err := h.pairing.Consume(ctx, inbound(phone, v2.Command))
		require.NoError(t, err)
		assert.True(t, res.Consumed)

		device := h.store.device(phone)
		require.NotNil(t, device)
		assert.Equal(t, second, device.UserID)
	})
}
