package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Itish41/IAOMS/models"
	"github.com/Itish41/IAOMS/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Notifier delivers content to one recipient over their enabled channels.
type Notifier interface {
	Notify(ctx context.Context, recipientID string, content models.NotificationContent) (DeliveryResult, error)
}

// Channel sends one notification over one medium.
type Channel interface {
	Name() models.ChannelName
	Send(ctx context.Context, to models.User, content models.NotificationContent) error
}

// DeliveryResult reports what happened on each channel.
type DeliveryResult struct {
	RecipientID string                       `json:"recipient_id"`
	Success     bool                         `json:"success"`
	Delivered   []models.ChannelName         `json:"delivered"`
	Failures    []*NotificationDeliveryError `json:"-"`
}

// Dispatcher is the Notifier used in production.
type Dispatcher struct {
	directory Directory
	prefs     PreferenceStore
	channels  map[models.ChannelName]Channel
	limiter   *ratelimit.Limiter
	log       *zap.Logger
}

// NewDispatcher wires the channels. limiter applies to sms and whatsapp and may be nil.
func NewDispatcher(directory Directory, prefs PreferenceStore, limiter *ratelimit.Limiter, log *zap.Logger, channels ...Channel) *Dispatcher {
	d := &Dispatcher{
		directory: directory,
		prefs:     prefs,
		channels:  make(map[models.ChannelName]Channel, len(channels)),
		limiter:   limiter,
		log:       log,
	}
	for _, ch := range channels {
		d.channels[ch.Name()] = ch
	}
	return d
}

// Notify sends content on every channel the recipient's preferences allow.
// Channels run concurrently and a failing channel never stops the others.
// The error is non-nil only when the recipient cannot be resolved or every
// attempted channel failed.
func (d *Dispatcher) Notify(ctx context.Context, recipientID string, content models.NotificationContent) (DeliveryResult, error) {
	result := DeliveryResult{RecipientID: recipientID}

	user, err := d.directory.ResolveRecipient(ctx, recipientID)
	if err != nil {
		return result, fmt.Errorf("failed to resolve recipient %s: %w", recipientID, err)
	}

	pref, err := d.prefs.Get(ctx, recipientID)
	if err != nil {
		d.log.Warn("using default notification preferences", zap.String("recipient_id", recipientID), zap.Error(err))
		pref = models.DefaultNotificationPreference(recipientID)
	}

	var enabled []Channel
	for _, name := range models.AllChannels {
		ch, ok := d.channels[name]
		if ok && pref.Channel(name).Allows(content.Type, content.Urgent) {
			enabled = append(enabled, ch)
		}
	}
	if len(enabled) == 0 {
		d.log.Debug("no channel enabled for notification",
			zap.String("recipient_id", recipientID),
			zap.String("type", string(content.Type)))
		return result, nil
	}

	errs := make([]error, len(enabled))
	var g errgroup.Group
	for i, ch := range enabled {
		g.Go(func() error {
			errs[i] = d.send(ctx, ch, *user, content)
			return nil
		})
	}
	_ = g.Wait()

	for i, ch := range enabled {
		if errs[i] == nil {
			result.Delivered = append(result.Delivered, ch.Name())
			continue
		}
		failure := &NotificationDeliveryError{Channel: ch.Name(), RecipientID: recipientID, Err: errs[i]}
		result.Failures = append(result.Failures, failure)
		d.log.Warn("notification channel failed",
			zap.String("channel", string(ch.Name())),
			zap.String("recipient_id", recipientID),
			zap.String("document_id", content.DocumentID),
			zap.Error(errs[i]))
	}
	result.Success = len(result.Delivered) > 0

	if !result.Success {
		return result, result.Failures[0]
	}
	return result, nil
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, to models.User, content models.NotificationContent) error {
	name := ch.Name()
	if d.limiter != nil && (name == models.ChannelSMS || name == models.ChannelWhatsApp) {
		if !d.limiter.Allow(string(name) + ":" + to.ID) {
			return fmt.Errorf("rate limit exceeded for %s", name)
		}
	}
	return ch.Send(ctx, to, content)
}

// contentFor builds the notification body for doc.
func contentFor(doc *models.Document, t models.NotificationType, publicURL string) models.NotificationContent {
	return models.NotificationContent{
		Type:          t,
		DocumentID:    doc.ID,
		DocumentTitle: doc.Title,
		Submitter:     doc.SubmitterName,
		Priority:      doc.Priority,
		Link:          fmt.Sprintf("%s/documents/%s", publicURL, doc.ID),
		Urgent:        doc.Type == models.DocumentTypeEmergency,
	}
}

// Preferences returns the saved preferences of userID, or the defaults.
func (d *Dispatcher) Preferences(ctx context.Context, userID string) (models.NotificationPreference, error) {
	pref, err := d.prefs.Get(ctx, userID)
	if err != nil {
		return models.NotificationPreference{}, &PersistenceError{Op: "load preferences", Err: err}
	}
	return pref, nil
}

// SavePreferences stores pref for a recipient known to the directory.
func (d *Dispatcher) SavePreferences(ctx context.Context, pref models.NotificationPreference) error {
	if _, err := d.directory.ResolveRecipient(ctx, pref.UserID); err != nil {
		if errors.Is(err, ErrUnknownRecipient) {
			return &ValidationError{Field: "user_id", Message: err.Error()}
		}
		return err
	}
	if err := d.prefs.Save(ctx, pref); err != nil {
		return &PersistenceError{Op: "save preferences", Err: err}
	}
	return nil
}
