package generator

// Role identifies the author of a message.
type Role string

// Conversation roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role
	Content string
}

// Conversation is an ordered, immutable message list. Every operation returns a new value.
type Conversation struct {
	messages []Message
}

// NewConversation starts a conversation with the given messages.
func NewConversation(msgs ...Message) Conversation {
	return Conversation{messages: append([]Message(nil), msgs...)}
}

// Append returns a conversation extended by msgs. The receiver is left unchanged.
func (c Conversation) Append(msgs ...Message) Conversation {
	out := make([]Message, 0, len(c.messages)+len(msgs))
	out = append(out, c.messages...)
	out = append(out, msgs...)
	return Conversation{messages: out}
}

// Resample discards the history and starts over from seed.
func (c Conversation) Resample(seed ...Message) Conversation {
	return NewConversation(seed...)
}

// Messages returns a copy of the message list.
func (c Conversation) Messages() []Message {
	return append([]Message(nil), c.messages...)
}

// Len is the number of messages.
func (c Conversation) Len() int {
	return len(c.messages)
}

// Size is the total content length in bytes, used to bound prompt growth.
func (c Conversation) Size() int {
	n := 0
	for _, m := range c.messages {
		n += len(m.Content)
	}
	return n
}

// Last returns the final message, if any.
func (c Conversation) Last() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

func userMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func assistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
