package collabd

// Built-in inbound message types.
const (
	MsgAuth            = "auth"
	MsgLogout          = "logout"
	MsgPing            = "ping"
	MsgSubscribe       = "subscribe"
	MsgUnsubscribe     = "unsubscribe"
	MsgFileOperation   = "file_operation"
	MsgDeployment      = "deployment"
	MsgCursorPosition  = "cursor_position"
	MsgSelectionChange = "selection_change"
	MsgDocumentChange  = "document_change"
	MsgTerminalInput   = "terminal_input"
	MsgTerminalResize  = "terminal_resize"
	MsgGetSystemInfo   = "get_system_info"
	MsgGetMetrics      = "get_metrics"
)

// Server-originated envelope types.
const (
	MsgWelcome         = "welcome"
	MsgError           = "error"
	MsgPong            = "pong"
	MsgAuthSuccess     = "auth_success"
	MsgLogoutSuccess   = "logout_success"
	MsgSubscribed      = "subscribed"
	MsgUnsubscribed    = "unsubscribed"
	MsgUserJoined      = "user_joined"
	MsgUserLeft        = "user_left"
	MsgCursorUpdate    = "cursor_update"
	MsgSelectionUpdate = "selection_update"
	MsgTerminalOutput  = "terminal_output"
	MsgSystemInfo      = "system_info"
	MsgMetrics         = "metrics"
)

// Permission tags granted through the auth flow.
const (
	PermRead    = "read"
	PermWrite   = "write"
	PermExecute = "execute"
)

// Protocol and auth error texts sent to clients.
const (
	ErrInvalidJSON     = "Invalid JSON"
	ErrMissingType     = "Missing message type"
	ErrAuthRequired    = "Authentication required"
	ErrInvalidToken    = "Invalid token"
	ErrInternalServer  = "Internal server error"
	ErrRateLimited     = "Rate limit exceeded"
	ErrUnknownTypeFmt  = "Unknown message type: %s"
	ErrPermDeniedFmt   = "Permission denied: %s required"
)

// Connection and lifecycle error texts.
const (
	ErrSessionNotFound      = "session not found"
	ErrConnectionClosed     = "session connection is closed"
	ErrSendQueueFull        = "session send queue is full"
	ErrContextCancelled     = "session context cancelled"
	ErrServerAlreadyRunning = "server already running"
)
