package view

// Level is the severity of a Notification.
type Level int

const (
	LevelInfo Level = iota
	LevelError
)

func (l Level) String() string {
	if l == LevelError {
		return "error"
	}
	return "info"
}

// Notification is a transient, user-facing message about a view operation.
type Notification struct {
	Level   Level
	Message string
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// ChannelNotifier delivers notifications on a buffered channel and drops
// them when nobody is reading.
type ChannelNotifier struct {
	C chan Notification
}

// NewChannelNotifier returns a ChannelNotifier buffering size messages.
func NewChannelNotifier(size int) *ChannelNotifier {
	return &ChannelNotifier{C: make(chan Notification, size)}
}

func (c *ChannelNotifier) Notify(n Notification) {
	select {
	case c.C <- n:
	default:
	}
}

type discard struct{}

func (discard) Notify(Notification) {}
