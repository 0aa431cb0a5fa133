package probe

// MCP method and notification constants.
// These are the standard MCP protocol method names used across the package.
const (
	methodInitialize      = "initialize"
	methodPing            = "ping"
	methodToolsList       = "tools/list"
	methodToolsCall       = "tools/call"
	methodResourcesList   = "resources/list"
	methodResourcesRead   = "resources/read"
	methodResourcesSub    = "resources/subscribe"
	methodResourcesUnsub  = "resources/unsubscribe"
	methodPromptsList     = "prompts/list"
	methodPromptsGet      = "prompts/get"
	methodTasksList       = "tasks/list"
	methodTasksGet        = "tasks/get"
	methodTasksCancel     = "tasks/cancel"
	methodTasksResult     = "tasks/result"

	notificationInitialized          = "notifications/initialized"
	notificationProgress             = "notifications/progress"
	notificationToolsListChanged     = "notifications/tools/list_changed"
	notificationResourcesListChanged = "notifications/resources/list_changed"
	notificationResourcesUpdated     = "notifications/resources/updated"
	notificationPromptsListChanged   = "notifications/prompts/list_changed"
)

// Request ids at or above rawIDBase are reserved for checks that craft raw
// payloads; the Session's own counter starts at 1 and stays below it.
const rawIDBase = 7000

// codeMethodNotFound is the JSON-RPC error code an unknown method must map to.
const codeMethodNotFound = -32601
