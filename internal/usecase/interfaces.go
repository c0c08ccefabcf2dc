package usecase

// Notifier pushes change signals to whatever UI transport is connected.
// Satisfied by the websocket manager; tests plug in a recorder.
type Notifier interface {
	NotifyUnreadCount(userID string, count int)
	NotifyConversationUpdated(userID, conversationID string)
}

type noopNotifier struct{}

func (noopNotifier) NotifyUnreadCount(string, int)            {}
func (noopNotifier) NotifyConversationUpdated(string, string) {}
