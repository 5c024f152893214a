package wire

// Event names.
const (
	EventValidate   = "check_valid_server"
	EventValidated  = "valid_server"
	EventGetClients = "get_clients"
	EventSetClients = "set_clients"

	EventInsertRequest  = "insert_request"
	EventUpdateRequest  = "update_request"
	EventDeleteRequest  = "delete_request"
	EventInsertResponse = "insert_response"
	EventUpdateResponse = "update_response"
	EventDeleteResponse = "delete_response"

	EventGetData = "get_data"
	EventSetData = "set_data"

	EventDisconnect = "disconnect"
)

// RequestEvent returns the request event for a change type
// ("insert", "update" or "delete").
func RequestEvent(changeType string) string {
	return changeType + "_request"
}

// ResponseEvent returns the response event for a change type.
func ResponseEvent(changeType string) string {
	return changeType + "_response"
}

// ChangeTypeOf returns the change type of a request or response event,
// or "" for any other event.
func ChangeTypeOf(event string) string {
	switch event {
	case EventInsertRequest, EventInsertResponse:
		return "insert"
	case EventUpdateRequest, EventUpdateResponse:
		return "update"
	case EventDeleteRequest, EventDeleteResponse:
		return "delete"
	default:
		return ""
	}
}

// IsRequest reports whether event is a mutation request.
func IsRequest(event string) bool {
	return event == EventInsertRequest || event == EventUpdateRequest || event == EventDeleteRequest
}

// IsResponse reports whether event is a mutation response.
func IsResponse(event string) bool {
	return event == EventInsertResponse || event == EventUpdateResponse || event == EventDeleteResponse
}
