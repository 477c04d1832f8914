package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/Itish41/IAOMS/config"
	"github.com/Itish41/IAOMS/models"
	"github.com/Itish41/IAOMS/ratelimit"
	"github.com/Itish41/IAOMS/realtime"
	"github.com/Itish41/IAOMS/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockChannels() map[models.ChannelName]*MockChannel {
	out := make(map[models.ChannelName]*MockChannel)
	for _, name := range models.AllChannels {
		out[name] = &MockChannel{name: name}
	}
	return out
}

func newTestDispatcher(prefs PreferenceStore, limiter *ratelimit.Limiter, mocks map[models.ChannelName]*MockChannel) *Dispatcher {
	channels := make([]Channel, 0, len(mocks))
	for _, name := range models.AllChannels {
		channels = append(channels, mocks[name])
	}
	return NewDispatcher(testDirectory(), prefs, limiter, zap.NewNop(), channels...)
}

func approvalContent() models.NotificationContent {
	return models.NotificationContent{
		Type:          models.NotificationApproval,
		DocumentID:    "doc-1",
		DocumentTitle: "Lab equipment purchase",
		Submitter:     userFaculty.Name,
		Priority:      models.PriorityHigh,
		Link:          "http://portal.test/documents/doc-1",
	}
}

func TestDispatcher_DefaultPreferences(t *testing.T) {
	mocks := newMockChannels()
	mocks[models.ChannelEmail].On("Send", mock.Anything, userAsha, mock.Anything).Return(nil).Once()
	mocks[models.ChannelPush].On("Send", mock.Anything, userAsha, mock.Anything).Return(nil).Once()
	d := newTestDispatcher(repository.NewMemoryPreferenceRepository(), nil, mocks)

	result, err := d.Notify(context.Background(), userAsha.ID, approvalContent())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []models.ChannelName{models.ChannelEmail, models.ChannelPush}, result.Delivered)
	assert.Empty(t, result.Failures)

	for _, m := range mocks {
		m.AssertExpectations(t)
	}
	mocks[models.ChannelSMS].AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	mocks[models.ChannelWhatsApp].AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_ChannelFailureIsIsolated(t *testing.T) {
	mocks := newMockChannels()
	mocks[models.ChannelEmail].On("Send", mock.Anything, userAsha, mock.Anything).Return(nil)
	mocks[models.ChannelPush].On("Send", mock.Anything, userAsha, mock.Anything).Return(errors.New("no open stream"))
	d := newTestDispatcher(repository.NewMemoryPreferenceRepository(), nil, mocks)

	result, err := d.Notify(context.Background(), userAsha.ID, approvalContent())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []models.ChannelName{models.ChannelEmail}, result.Delivered)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, models.ChannelPush, result.Failures[0].Channel)
	assert.ErrorIs(t, result.Failures[0], ErrNotificationDelivery)
}

func TestDispatcher_AllChannelsFail(t *testing.T) {
	mocks := newMockChannels()
	mocks[models.ChannelEmail].On("Send", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("smtp down"))
	mocks[models.ChannelPush].On("Send", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("no open stream"))
	d := newTestDispatcher(repository.NewMemoryPreferenceRepository(), nil, mocks)

	result, err := d.Notify(context.Background(), userAsha.ID, approvalContent())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotificationDelivery)
	assert.False(t, result.Success)
	assert.Len(t, result.Failures, 2)
}

func TestDispatcher_UnknownRecipient(t *testing.T) {
	mocks := newMockChannels()
	d := newTestDispatcher(repository.NewMemoryPreferenceRepository(), nil, mocks)

	_, err := d.Notify(context.Background(), "u-ghost", approvalContent())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownRecipient)
	mocks[models.ChannelEmail].AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatcher_PreferenceRules(t *testing.T) {
	prefs := repository.NewMemoryPreferenceRepository()
	require.NoError(t, prefs.Save(context.Background(), models.NotificationPreference{
		UserID: userAsha.ID,
		Email:  models.ChannelPreference{Enabled: true, Updates: true},
		Push:   models.ChannelPreference{Enabled: false, Approvals: true},
	}))

	tests := []struct {
		name   string
		typ    models.NotificationType
		urgent bool
		want   []models.ChannelName
	}{
		{"approval filtered by sub-flag", models.NotificationApproval, false, nil},
		{"update allowed", models.NotificationUpdate, false, []models.ChannelName{models.ChannelEmail}},
		{"urgent ignores sub-flags", models.NotificationApproval, true, []models.ChannelName{models.ChannelEmail}},
		{"escalation follows approvals", models.NotificationEscalation, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mocks := newMockChannels()
			for _, m := range mocks {
				m.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil)
			}
			d := newTestDispatcher(prefs, nil, mocks)

			content := approvalContent()
			content.Type = tt.typ
			content.Urgent = tt.urgent
			result, err := d.Notify(context.Background(), userAsha.ID, content)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Delivered)
			// disabled push never fires, urgent or not
			mocks[models.ChannelPush].AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestDispatcher_RateLimitsSMS(t *testing.T) {
	prefs := repository.NewMemoryPreferenceRepository()
	require.NoError(t, prefs.Save(context.Background(), models.NotificationPreference{
		UserID: userAsha.ID,
		SMS:    models.ChannelPreference{Enabled: true, Approvals: true},
	}))
	mocks := newMockChannels()
	mocks[models.ChannelSMS].On("Send", mock.Anything, userAsha, mock.Anything).Return(nil).Once()
	d := newTestDispatcher(prefs, ratelimit.New(1, time.Hour), mocks)

	_, err := d.Notify(context.Background(), userAsha.ID, approvalContent())
	require.NoError(t, err)

	result, err := d.Notify(context.Background(), userAsha.ID, approvalContent())
	require.Error(t, err)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0].Error(), "rate limit exceeded")
	mocks[models.ChannelSMS].AssertExpectations(t)
}

func TestDispatcher_SavePreferences(t *testing.T) {
	prefs := repository.NewMemoryPreferenceRepository()
	d := newTestDispatcher(prefs, nil, newMockChannels())
	ctx := context.Background()

	pref := models.DefaultNotificationPreference(userMeera.ID)
	pref.WhatsApp.Enabled = true
	require.NoError(t, d.SavePreferences(ctx, pref))

	got, err := d.Preferences(ctx, userMeera.ID)
	require.NoError(t, err)
	assert.True(t, got.WhatsApp.Enabled)

	err = d.SavePreferences(ctx, models.DefaultNotificationPreference("u-ghost"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestEmailChannel_Send(t *testing.T) {
	ch := NewEmailChannel(config.SMTPConfig{Host: "smtp.example.edu", Port: 587, From: "iaoms@example.edu", Password: "secret"})
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	ch.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	content := approvalContent()
	content.Urgent = true
	require.NoError(t, ch.Send(context.Background(), userAsha, content))
	assert.Equal(t, "smtp.example.edu:587", gotAddr)
	assert.Equal(t, []string{userAsha.Email}, gotTo)
	assert.Contains(t, gotMsg, "Subject: URGENT Approval Required: Lab equipment purchase")
	assert.Contains(t, gotMsg, content.Link)

	ch.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("535 auth failed") }
	assert.ErrorContains(t, ch.Send(context.Background(), userAsha, content), "failed to send email")

	noMail := userAsha
	noMail.Email = ""
	assert.Error(t, ch.Send(context.Background(), noMail, content))
}

func TestEmailChannel_EscapesUserInput(t *testing.T) {
	ch := NewEmailChannel(config.SMTPConfig{Host: "smtp.example.edu", Port: 587, From: "iaoms@example.edu"})
	var gotMsg string
	ch.sendMail = func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		gotMsg = string(msg)
		return nil
	}

	tests := []struct {
		name   string
		title  string
		header string
		body   string
	}{
		{"header injection", "Leave\r\nBcc: attacker@evil.test", "Subject: Approval Required: Leave  Bcc: attacker@evil.test\r\n", ""},
		{"html injection", "<script>alert(1)</script>", "", "<strong>Document:</strong> &lt;script&gt;alert(1)&lt;/script&gt;</li>"},
		{"non-ascii subject", "Fee waiver for Ré", "Subject: =?UTF-8?q?", "Fee waiver for Ré"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := approvalContent()
			content.DocumentTitle = tt.title
			require.NoError(t, ch.Send(context.Background(), userAsha, content))

			split := strings.Index(gotMsg, "\r\n\r\n")
			require.Positive(t, split)
			header, body := gotMsg[:split+2], gotMsg[split+4:]
			assert.Contains(t, header, tt.header)
			assert.Contains(t, body, tt.body)
			assert.NotContains(t, body, "<script>")
			for _, line := range strings.Split(header, "\r\n") {
				assert.False(t, strings.HasPrefix(line, "Bcc:"), line)
			}
		})
	}
}

func TestWebhookChannel_Send(t *testing.T) {
	var payload map[string]interface{}
	status := http.StatusAccepted
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(status)
		_, _ = w.Write([]byte("provider says no"))
	}))
	defer server.Close()

	ch := NewWebhookChannel(models.ChannelSMS, server.URL)
	to := userAsha
	to.Phone = "+919800000001"

	require.NoError(t, ch.Send(context.Background(), to, approvalContent()))
	assert.Equal(t, "+919800000001", payload["to"])
	assert.Equal(t, "sms", payload["channel"])
	assert.True(t, strings.HasPrefix(payload["message"].(string), "Approval Required"))

	status = http.StatusBadGateway
	assert.ErrorContains(t, ch.Send(context.Background(), to, approvalContent()), "returned 502")

	assert.Error(t, ch.Send(context.Background(), userAsha, approvalContent()), "no phone number")
}

func TestPushChannel_Send(t *testing.T) {
	hub := realtime.NewHub(zap.NewNop())
	ch := NewPushChannel(hub)

	assert.Error(t, ch.Send(context.Background(), userAsha, approvalContent()))

	client := &realtime.Client{ID: "c1", UserID: userAsha.ID, Events: make(chan realtime.Event, 1)}
	hub.Register(client)
	require.NoError(t, ch.Send(context.Background(), userAsha, approvalContent()))

	ev := <-client.Events
	assert.Equal(t, "notification", ev.EventType)
	assert.Contains(t, ev.Data, `"document_id":"doc-1"`)
}

func TestContentFor(t *testing.T) {
	doc := sequentialDoc(userAsha)
	doc.SubmitterName = userFaculty.Name
	c := contentFor(doc, models.NotificationApproval, "http://portal.test")
	assert.Equal(t, "http://portal.test/documents/doc-1", c.Link)
	assert.False(t, c.Urgent)

	doc.Type = models.DocumentTypeEmergency
	assert.True(t, contentFor(doc, models.NotificationUpdate, "").Urgent)
}
