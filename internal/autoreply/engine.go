// Package autoreply synthesizes system-authored replies to inbound
// messages: a canned acknowledgement on a tenant's first contact with a
// landlord, and a maintenance acknowledgement when a tenant's message
// mentions maintenance.
package autoreply

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/leaselink/messaging/internal/identity"
	"github.com/leaselink/messaging/internal/metrics"
	"github.com/leaselink/messaging/internal/models"
	"github.com/leaselink/messaging/internal/store"
)

const (
	maintenanceKeyword = "maintenance"

	firstContactBody = "Thanks for reaching out! I've received your message and will get back to you as soon as possible."
	maintenanceBody  = "Your maintenance request has been received. Someone will follow up shortly to schedule a visit."
)

type Engine struct {
	messages store.MessageStore
	resolver *identity.Resolver
	log      zerolog.Logger
}

func NewEngine(messages store.MessageStore, resolver *identity.Resolver, log zerolog.Logger) *Engine {
	return &Engine{
		messages: messages,
		resolver: resolver,
		log:      log.With().Str("component", "autoreply").Logger(),
	}
}

// Evaluate runs both triggers for a just-persisted message and returns the
// synthetic replies it appended, in the order they should be broadcast.
// The triggers run in a fixed order (first-contact, then keyword) and are
// independent: both may fire for one message. Failures are logged and
// swallowed; they never affect the triggering message.
//
// The caller must invoke Evaluate while holding the room's send lock, so
// the first-contact count cannot race a concurrent send in the same room.
func (e *Engine) Evaluate(ctx context.Context, roomID string, sender, receiver models.Participant, senderAccountID, receiverAccountID int, body string) []models.Message {
	if sender.Role != models.RoleTenant {
		return nil
	}

	var synthetic []models.Message

	if receiver.Role == models.RoleLandlord {
		if msg := e.firstContact(ctx, roomID, senderAccountID, receiverAccountID); msg != nil {
			synthetic = append(synthetic, *msg)
		}
	}

	if strings.Contains(strings.ToLower(body), maintenanceKeyword) {
		if msg := e.maintenance(ctx, roomID, sender, senderAccountID); msg != nil {
			synthetic = append(synthetic, *msg)
		}
	}

	return synthetic
}

// firstContact replies on the tenant's first-ever message to this landlord
// in this room. The count includes the message that triggered evaluation.
func (e *Engine) firstContact(ctx context.Context, roomID string, senderAccountID, receiverAccountID int) *models.Message {
	count, err := e.messages.CountFromTo(ctx, roomID, senderAccountID, receiverAccountID)
	if err != nil {
		metrics.SynthesisFailures.WithLabelValues("first_contact").Inc()
		e.log.Error().Err(err).Str("room_id", roomID).Msg("first-contact count failed")
		return nil
	}
	if count != 1 {
		return nil
	}

	msg, err := e.messages.Append(ctx, roomID, receiverAccountID, senderAccountID, firstContactBody)
	if err != nil {
		metrics.SynthesisFailures.WithLabelValues("first_contact").Inc()
		e.log.Error().Err(err).Str("room_id", roomID).Msg("first-contact reply not persisted")
		return nil
	}

	metrics.SyntheticReplies.WithLabelValues("first_contact").Inc()
	metrics.MessagesStored.WithLabelValues("synthetic").Inc()
	return msg
}

// maintenance replies on behalf of the landlord responsible for the
// tenant's unit. A tenant without a resolvable unit/property/landlord
// chain simply gets no reply.
func (e *Engine) maintenance(ctx context.Context, roomID string, sender models.Participant, senderAccountID int) *models.Message {
	_, landlordAccountID, err := e.resolver.MaintenanceLandlord(ctx, sender.RoleID)
	if err != nil {
		metrics.SynthesisFailures.WithLabelValues("maintenance").Inc()
		e.log.Warn().Err(err).Str("room_id", roomID).Int("tenant_id", sender.RoleID).Msg("maintenance landlord not resolvable, skipping reply")
		return nil
	}

	msg, err := e.messages.Append(ctx, roomID, landlordAccountID, senderAccountID, maintenanceBody)
	if err != nil {
		metrics.SynthesisFailures.WithLabelValues("maintenance").Inc()
		e.log.Error().Err(err).Str("room_id", roomID).Msg("maintenance reply not persisted")
		return nil
	}

	metrics.SyntheticReplies.WithLabelValues("maintenance").Inc()
	metrics.MessagesStored.WithLabelValues("synthetic").Inc()
	return msg
}
