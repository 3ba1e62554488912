package services

import (
	"context"
	"strings"

	"greendrake/offers/internal/cache"
	"greendrake/offers/internal/models"
	"greendrake/offers/internal/store"
	"greendrake/offers/internal/utils"
)

// MessageInput is a new chat message.
type MessageInput struct {
	Body        string   `json:"body" binding:"required"`
	IsPrivate   bool     `json:"is_private"`
	Attachments []string `json:"attachments"`
}

// ICommunicationService manages the chat of an offer.
type ICommunicationService interface {
	// List hides private messages from buyers.
	List(ctx context.Context, identity models.Identity, offerID utils.SixID) ([]models.OfferCommunication, error)
	Send(ctx context.Context, identity models.Identity, offerID utils.SixID, in MessageInput) (*models.OfferCommunication, error)
	Edit(ctx context.Context, identity models.Identity, offerID, messageID utils.SixID, body string) (*models.OfferCommunication, error)
	Delete(ctx context.Context, identity models.Identity, offerID, messageID utils.SixID) error
}

type communicationService struct {
	satellite
}

// NewCommunicationService creates a new CommunicationService.
func NewCommunicationService(st store.RecordStore, roles IRoleResolver, timeline ITimelineService, c *cache.TTLCache) ICommunicationService {
	return &communicationService{satellite: newSatellite(st, roles, timeline, c)}
}

func (s *communicationService) List(ctx context.Context, identity models.Identity, offerID utils.SixID) ([]models.OfferCommunication, error) {
	const op = "communications.list"
	res, err := s.authorize(ctx, op, identity, offerID, models.RoleBuyer, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		return nil, err
	}

	key := cache.CommunicationsKey(offerID.String())
	all, ok := cache.GetAs[[]models.OfferCommunication](s.cache, key)
	if !ok {
		rows, err := s.list(ctx, op, models.TableCommunications, offerID)
		if err != nil {
			return nil, err
		}
		all, err = store.DecodeAll[models.OfferCommunication](rows)
		if err != nil {
			return nil, storeFailure(op, err)
		}
		s.cache.Set(key, all)
	}
	return VisibleMessages(all, res.Role), nil
}

// VisibleMessages filters messages down to what role may read.
func VisibleMessages(all []models.OfferCommunication, role models.Role) []models.OfferCommunication {
	out := make([]models.OfferCommunication, 0, len(all))
	for _, m := range all {
		if role == models.RoleBuyer && !m.VisibleToBuyer() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Send posts a message. Only the seller side may post private notes.
func (s *communicationService) Send(ctx context.Context, identity models.Identity, offerID utils.SixID, in MessageInput) (*models.OfferCommunication, error) {
	const op = "communications.send"
	res, err := s.authorize(ctx, op, identity, offerID, models.RoleBuyer, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if !res.Can(CapMessage) {
		return nil, permissionDenied(op, "")
	}
	if in.IsPrivate && res.Role == models.RoleBuyer {
		return nil, permissionDenied(op, "Buyers cannot post private notes.")
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return nil, validationError(op, "The message cannot be empty.")
	}

	var msg *models.OfferCommunication
	err = s.insert(ctx, op, models.TableCommunications, func(id utils.SixID) interface{} {
		msg = &models.OfferCommunication{
			ID:          id,
			OfferID:     offerID,
			Body:        body,
			AuthorID:    identity.ID,
			AuthorRole:  res.Role,
			IsPrivate:   in.IsPrivate,
			Attachments: in.Attachments,
			CreatedAt:   s.now(),
		}
		return msg
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(offerID)
	s.record(ctx, res, offerID, EventMessageSent, "Mensaje enviado", "", map[string]interface{}{
		"communication_id": msg.ID.String(),
		"is_private":       msg.IsPrivate,
	})
	return msg, nil
}

// Edit replaces the body of the caller's own message.
func (s *communicationService) Edit(ctx context.Context, identity models.Identity, offerID, messageID utils.SixID, body string) (*models.OfferCommunication, error) {
	const op = "communications.edit"
	res, err := s.authorize(ctx, op, identity, offerID, models.RoleBuyer, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	var msg models.OfferCommunication
	if err := s.fetch(ctx, op, models.TableCommunications, "Message", offerID, messageID, &msg); err != nil {
		return nil, err
	}
	if msg.AuthorID != identity.ID {
		return nil, permissionDenied(op, "You can only edit your own messages.")
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, validationError(op, "The message cannot be empty.")
	}
	patch := store.Row{"body": body, "updated_at": s.now()}
	if err := s.update(ctx, op, models.TableCommunications, "Message", offerID, messageID, patch, &msg); err != nil {
		return nil, err
	}
	s.invalidate(offerID)
	s.record(ctx, res, offerID, EventMessageEdited, "Mensaje editado", "", map[string]interface{}{
		"communication_id": msg.ID.String(),
	})
	return &msg, nil
}

func (s *communicationService) Delete(ctx context.Context, identity models.Identity, offerID, messageID utils.SixID) error {
	const op = "communications.delete"
	res, err := s.authorize(ctx, op, identity, offerID, models.RoleSeller, models.RoleAdmin)
	if err != nil {
		return err
	}
	if err := s.remove(ctx, op, models.TableCommunications, "Message", offerID, messageID); err != nil {
		return err
	}
	s.invalidate(offerID)
	s.record(ctx, res, offerID, EventMessageDeleted, "Mensaje eliminado", "", map[string]interface{}{
		"communication_id": messageID.String(),
	})
	return nil
}

func (s *communicationService) invalidate(offerID utils.SixID) {
	s.cache.Delete(cache.CommunicationsKey(offerID.String()))
}
