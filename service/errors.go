package services

import (
	"errors"
	"fmt"

	"github.com/Itish41/IAOMS/models"
)

// Sentinels for errors.Is; the typed errors below carry the details.
var (
	ErrNotARecipient        = errors.New("not a recipient")
	ErrAlreadyTerminal      = errors.New("document already finalized")
	ErrUnknownDocument      = errors.New("unknown document")
	ErrBypassNotAuthorized  = errors.New("bypass not authorized")
	ErrPersistence          = errors.New("persistence failure")
	ErrNotificationDelivery = errors.New("notification delivery failed")
	ErrValidation           = errors.New("invalid request")
)

// Reasons reported by NotARecipientError.
const (
	ReasonNotRecipient = "you are not a recipient of this document"
	ReasonAlreadyActed = "you have already acted on this document"
	ReasonNotYourTurn  = "it is not your turn to act on this document yet"
)

type NotARecipientError struct {
	DocumentID string
	UserID     string
	Reason     string
}

func (e *NotARecipientError) Error() string {
	return fmt.Sprintf("user %s cannot act on document %s: %s", e.UserID, e.DocumentID, e.Reason)
}

func (e *NotARecipientError) Is(target error) bool { return target == ErrNotARecipient }

type AlreadyTerminalError struct {
	DocumentID string
	Status     models.DocumentStatus
}

func (e *AlreadyTerminalError) Error() string {
	return fmt.Sprintf("document %s is already %s", e.DocumentID, e.Status)
}

func (e *AlreadyTerminalError) Is(target error) bool { return target == ErrAlreadyTerminal }

type UnknownDocumentError struct {
	DocumentID string
}

func (e *UnknownDocumentError) Error() string {
	return fmt.Sprintf("document %s not found", e.DocumentID)
}

func (e *UnknownDocumentError) Is(target error) bool { return target == ErrUnknownDocument }

type BypassNotAuthorizedError struct {
	UserID string
	Reason string
}

func (e *BypassNotAuthorizedError) Error() string {
	return fmt.Sprintf("user %s cannot bypass: %s", e.UserID, e.Reason)
}

func (e *BypassNotAuthorizedError) Is(target error) bool { return target == ErrBypassNotAuthorized }

// PersistenceError wraps a store failure. The caller's state is untouched.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func (e *PersistenceError) Unwrap() error { return e.Err }

// NotificationDeliveryError is reported per channel and never fails the caller.
type NotificationDeliveryError struct {
	Channel     models.ChannelName
	RecipientID string
	Err         error
}

func (e *NotificationDeliveryError) Error() string {
	return fmt.Sprintf("%s delivery to %s failed: %v", e.Channel, e.RecipientID, e.Err)
}

func (e *NotificationDeliveryError) Is(target error) bool { return target == ErrNotificationDelivery }

func (e *NotificationDeliveryError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
