package chat

import (
	"context"

	"chathub/models"
	"chathub/protocol"
)

// History returns every global message plus the private messages id sent or
// received, oldest first.
func (r *Router) History(ctx context.Context, id models.Identity, limit int) ([]protocol.ChatMessage, error) {
	msgs, err := bounded(ctx, r, "query", func(ctx context.Context) ([]models.Message, error) {
		return r.log.Query(ctx, models.MessageFilter{ParticipantID: id.UserID, Limit: limit})
	})
	if err != nil {
		return nil, err
	}

	out := make([]protocol.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, protocol.ChatMessage{
			ID:        m.ID,
			Username:  m.SenderName,
			Recipient: m.RecipientName,
			Text:      m.Text,
			Timestamp: m.Timestamp,
			IsPrivate: m.IsPrivate,
			IsOwn:     m.SenderID == id.UserID,
		})
	}
	return out, nil
}
