package bot

// Kind is the type of an inbound event.
type Kind string

const (
	KindText     Kind = "text"
	KindCommand  Kind = "command"
	KindDocument Kind = "document"
)

// Commands understood by the orchestrator.
const (
	CommandStart  = "start"
	CommandGroup  = "group"
	CommandOrg    = "org"
	CommandCancel = "cancel"
	CommandReset  = "reset"
	CommandPing   = "ping"
	CommandHelp   = "help"
)

// Contact is the chat contact that produced an event.
type Contact struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// DisplayName joins first and last name.
func (c Contact) DisplayName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// Upload is a document sent by the contact, as received from the transport.
type Upload struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

// Event is one inbound message from the chat transport.
type Event struct {
	Contact  Contact `json:"contact"`
	Kind     Kind    `json:"kind"`
	Command  string  `json:"command,omitempty"` // without the leading slash
	Text     string  `json:"text,omitempty"`
	Document *Upload `json:"document,omitempty"`
}

// OutboundDocument is a report packaged for the contact.
type OutboundDocument struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
	Caption  string `json:"caption,omitempty"`
}

// Reply is one outbound message. Choices are rendered by the transport as a
// reply keyboard.
type Reply struct {
	Text           string            `json:"text,omitempty"`
	Choices        []string          `json:"choices,omitempty"`
	RemoveKeyboard bool              `json:"remove_keyboard,omitempty"`
	Markdown       bool              `json:"markdown,omitempty"`
	Document       *OutboundDocument `json:"document,omitempty"`
}
