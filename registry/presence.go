package registry

import (
	"fmt"

	"chathub/protocol"
)

// Broadcast delivers ev to every online session, the origin included.
func (r *Registry) Broadcast(ev protocol.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.sessions {
		r.deliver(e.handle, ev)
	}
}

// SendTo delivers ev to username if online. It reports whether the user was
// online; an offline recipient is not an error.
func (r *Registry) SendTo(username string, ev protocol.Event) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[username]
	if !ok {
		return false
	}
	r.deliver(e.handle, ev)
	return true
}

// SendRoster sends the current online list to username.
func (r *Registry) SendRoster(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[username]
	if !ok {
		return false
	}
	r.deliver(e.handle, protocol.Event{
		Type: protocol.EventOnlineUsers,
		Data: protocol.UserList{Users: r.listLocked()},
	})
	return true
}

func (r *Registry) broadcastExceptLocked(username string, ev protocol.Event) {
	for u, e := range r.sessions {
		if u == username {
			continue
		}
		r.deliver(e.handle, ev)
	}
}

func (r *Registry) announceJoinLocked(username string) {
	now := r.now().UTC()
	r.broadcastExceptLocked(username, protocol.Event{Type: protocol.EventUserJoined, Data: username})
	r.broadcastExceptLocked(username, protocol.NewSystemMessage(fmt.Sprintf("%s has joined the chat", username), now))
}

func (r *Registry) announceLeaveLocked(username string) {
	now := r.now().UTC()
	r.broadcastExceptLocked(username, protocol.Event{Type: protocol.EventUserLeft, Data: username})
	r.broadcastExceptLocked(username, protocol.NewSystemMessage(fmt.Sprintf("%s has left the chat", username), now))
}

func (r *Registry) deliver(h Handle, ev protocol.Event) {
	if !h.Send(ev) && r.observer != nil {
		r.observer.DroppedEvent(ev.Type)
	}
}
