//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package server

import (
	"net/http"
)

// OpenAPISpec represents the OpenAPI v3 specification.
type OpenAPISpec struct {
	OpenAPI    string                 `json:"openapi"`
	Info       OpenAPIInfo            `json:"info"`
	Servers    []OpenAPIServer        `json:"servers"`
	Paths      map[string]OpenAPIPath `json:"paths"`
	Components OpenAPIComponents      `json:"components"`
}

// OpenAPIInfo contains API metadata.
type OpenAPIInfo struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// OpenAPIServer describes a server.
type OpenAPIServer struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

// OpenAPIPath contains operations for a path.
type OpenAPIPath struct {
	Get    *OpenAPIOperation `json:"get,omitempty"`
	Post   *OpenAPIOperation `json:"post,omitempty"`
	Put    *OpenAPIOperation `json:"put,omitempty"`
	Delete *OpenAPIOperation `json:"delete,omitempty"`
}

// OpenAPIOperation describes an API operation.
type OpenAPIOperation struct {
	Summary     string                     `json:"summary"`
	Description string                     `json:"description,omitempty"`
	OperationID string                     `json:"operationId"`
	Tags        []string                   `json:"tags,omitempty"`
	Security    []map[string][]string      `json:"security,omitempty"`
	Parameters  []OpenAPIParameter         `json:"parameters,omitempty"`
	RequestBody *OpenAPIRequestBody        `json:"requestBody,omitempty"`
	Responses   map[string]OpenAPIResponse `json:"responses"`
}

// OpenAPIParameter describes a parameter.
type OpenAPIParameter struct {
	Name        string        `json:"name"`
	In          string        `json:"in"`
	Description string        `json:"description,omitempty"`
	Required    bool          `json:"required"`
	Schema      OpenAPISchema `json:"schema"`
}

// OpenAPIRequestBody describes a request body.
type OpenAPIRequestBody struct {
	Description string                      `json:"description,omitempty"`
	Required    bool                        `json:"required"`
	Content     map[string]OpenAPIMediaType `json:"content"`
}

// OpenAPIResponse describes a response.
type OpenAPIResponse struct {
	Description string                      `json:"description"`
	Content     map[string]OpenAPIMediaType `json:"content,omitempty"`
}

// OpenAPIMediaType describes a media type.
type OpenAPIMediaType struct {
	Schema OpenAPISchema `json:"schema"`
}

// OpenAPISchema describes a schema.
type OpenAPISchema struct {
	Type        string                   `json:"type,omitempty"`
	Format      string                   `json:"format,omitempty"`
	Description string                   `json:"description,omitempty"`
	Properties  map[string]OpenAPISchema `json:"properties,omitempty"`
	Items       *OpenAPISchema           `json:"items,omitempty"`
	Required    []string                 `json:"required,omitempty"`
	Enum        []string                 `json:"enum,omitempty"`
	Default     any                      `json:"default,omitempty"`
	Ref         string                   `json:"$ref,omitempty"`
}

// OpenAPISecurityScheme describes an authentication scheme.
type OpenAPISecurityScheme struct {
	Type         string `json:"type"`
	Scheme       string `json:"scheme,omitempty"`
	BearerFormat string `json:"bearerFormat,omitempty"`
}

// OpenAPIComponents contains reusable components.
type OpenAPIComponents struct {
	Schemas         map[string]OpenAPISchema         `json:"schemas"`
	SecuritySchemes map[string]OpenAPISecurityScheme `json:"securitySchemes,omitempty"`
}

// handleOpenAPI handles the GET /openapi.json endpoint.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, BuildOpenAPISpec())
}

func ref(name string) OpenAPISchema {
	return OpenAPISchema{Ref: "#/components/schemas/" + name}
}

func jsonBody(schema string) map[string]OpenAPIMediaType {
	return map[string]OpenAPIMediaType{
		"application/json": {Schema: ref(schema)},
	}
}

func jsonResponse(schema, description string) OpenAPIResponse {
	return OpenAPIResponse{Description: description, Content: jsonBody(schema)}
}

func requestBody(schema, description string) *OpenAPIRequestBody {
	return &OpenAPIRequestBody{Description: description, Required: true, Content: jsonBody(schema)}
}

// responses builds a response set from a success response plus error
// statuses, each carrying the standard error body.
func responses(ok OpenAPIResponse, errorStatuses map[string]string) map[string]OpenAPIResponse {
	out := map[string]OpenAPIResponse{
		"200": ok,
		"401": jsonResponse("ErrorResponse", "Missing or invalid bearer token"),
	}
	for status, description := range errorStatuses {
		out[status] = jsonResponse("ErrorResponse", description)
	}
	return out
}

var bearer = []map[string][]string{{"bearerAuth": {}}}

func idParam(name, description string) OpenAPIParameter {
	return OpenAPIParameter{
		Name:        name,
		In:          "path",
		Description: description,
		Required:    true,
		Schema:      OpenAPISchema{Type: "string", Format: "uuid"},
	}
}

var (
	chatIDParam  = idParam("chatId", "Chat identifier")
	brainIDParam = OpenAPIParameter{
		Name:        "brain_id",
		In:          "query",
		Description: "Brain id, or the derived id of a model for direct chat",
		Schema:      OpenAPISchema{Type: "string", Format: "uuid"},
	}
)

var questionErrors = map[string]string{
	"400": "Invalid request",
	"403": "Caller does not own the chat or lacks access to the brain",
	"404": "Chat not found",
	"422": "Question empty or target could not be resolved",
	"429": "Usage quota exceeded",
	"500": "Server configuration error",
	"502": "Answer generation failed",
}

// BuildOpenAPISpec constructs the OpenAPI v3 specification.
// This is exported so it can be used to generate static documentation.
func BuildOpenAPISpec() OpenAPISpec {
	return OpenAPISpec{
		OpenAPI: "3.0.3",
		Info: OpenAPIInfo{
			Title:       "pgEdge Chat Server API",
			Description: "REST API for chats answered by models directly or through brains",
			Version:     "1.0.0",
		},
		Servers: []OpenAPIServer{
			{
				URL:         "/",
				Description: "Chat API",
			},
		},
		Paths: map[string]OpenAPIPath{
			"/chat/healthz": {
				Get: &OpenAPIOperation{
					Summary:     "Health check",
					OperationID: "getHealth",
					Tags:        []string{"System"},
					Responses: map[string]OpenAPIResponse{
						"200": jsonResponse("HealthResponse", "Server is healthy"),
					},
				},
			},
			"/chat": {
				Get: &OpenAPIOperation{
					Summary:     "List chats",
					Description: "List the caller's chats",
					OperationID: "listChats",
					Tags:        []string{"Chats"},
					Security:    bearer,
					Responses:   responses(jsonResponse("ChatsResponse", "Chats owned by the caller"), nil),
				},
				Post: &OpenAPIOperation{
					Summary:     "Create chat",
					OperationID: "createChat",
					Tags:        []string{"Chats"},
					Security:    bearer,
					RequestBody: &OpenAPIRequestBody{
						Content: jsonBody("CreateChatRequest"),
					},
					Responses: responses(jsonResponse("Chat", "Created chat"), map[string]string{
						"400": "Invalid request",
					}),
				},
			},
			"/chat/{chatId}": {
				Delete: &OpenAPIOperation{
					Summary:     "Delete chat",
					OperationID: "deleteChat",
					Tags:        []string{"Chats"},
					Security:    bearer,
					Parameters:  []OpenAPIParameter{chatIDParam},
					Responses: responses(jsonResponse("MessageResponse", "Chat deleted"), map[string]string{
						"403": "Caller does not own the chat",
						"404": "Chat not found",
					}),
				},
			},
			"/chat/{chatId}/metadata": {
				Put: &OpenAPIOperation{
					Summary:     "Rename chat",
					OperationID: "renameChat",
					Tags:        []string{"Chats"},
					Security:    bearer,
					Parameters:  []OpenAPIParameter{chatIDParam},
					RequestBody: requestBody("RenameChatRequest", "New chat name"),
					Responses: responses(jsonResponse("Chat", "Renamed chat"), map[string]string{
						"403": "Caller does not own the chat",
						"404": "Chat not found",
						"422": "Empty name",
					}),
				},
			},
			"/chat/{chatId}/{messageId}": {
				Put: &OpenAPIOperation{
					Summary:     "Update message",
					Description: "Change the answer text or metadata of a message",
					OperationID: "updateMessage",
					Tags:        []string{"Messages"},
					Security:    bearer,
					Parameters:  []OpenAPIParameter{chatIDParam, idParam("messageId", "Message identifier")},
					RequestBody: requestBody("UpdateMessageRequest", "Fields to change"),
					Responses: responses(jsonResponse("Turn", "Updated message"), map[string]string{
						"403": "Caller does not own the chat",
						"404": "Chat or message not found",
						"422": "Nothing to update or invalid metadata",
					}),
				},
			},
			"/chat/{chatId}/history": {
				Get: &OpenAPIOperation{
					Summary:     "Chat history",
					Description: "Messages in append order with notifications placed by time",
					OperationID: "getHistory",
					Tags:        []string{"Messages"},
					Security:    bearer,
					Parameters:  []OpenAPIParameter{chatIDParam},
					Responses: responses(jsonResponse("HistoryResponse", "Chat history"), map[string]string{
						"403": "Caller does not own the chat",
						"404": "Chat not found",
					}),
				},
			},
			"/chat/{chatId}/question": {
				Post: &OpenAPIOperation{
					Summary:     "Ask a question",
					Description: "Answer a question with a model or brain and record the turn",
					OperationID: "askQuestion",
					Tags:        []string{"Questions"},
					Security:    bearer,
					Parameters:  []OpenAPIParameter{chatIDParam, brainIDParam},
					RequestBody: requestBody("QuestionRequest", "Question"),
					Responses:   responses(jsonResponse("Answer", "Recorded answer"), questionErrors),
				},
			},
			"/chat/{chatId}/question/stream": {
				Post: &OpenAPIOperation{
					Summary:     "Ask a question (streaming)",
					Description: "Stream the answer as Server-Sent Events: chunk events followed by a single done or error event",
					OperationID: "askQuestionStream",
					Tags:        []string{"Questions"},
					Security:    bearer,
					Parameters:  []OpenAPIParameter{chatIDParam, brainIDParam},
					RequestBody: requestBody("QuestionRequest", "Question"),
					Responses: responses(OpenAPIResponse{
						Description: "Answer stream",
						Content: map[string]OpenAPIMediaType{
							"text/event-stream": {Schema: ref("StreamEvent")},
						},
					}, questionErrors),
				},
			},
			"/chat/{chatId}/question/answer": {
				Post: &OpenAPIOperation{
					Summary:     "Record a question and answer",
					Description: "Append a question/answer pair without generating anything",
					OperationID: "addQuestionAndAnswer",
					Tags:        []string{"Questions"},
					Security:    bearer,
					Parameters:  []OpenAPIParameter{chatIDParam},
					RequestBody: requestBody("QuestionAnswerRequest", "Question and answer"),
					Responses: responses(jsonResponse("Chat", "The chat"), map[string]string{
						"403": "Caller does not own the chat",
						"404": "Chat not found",
						"422": "Empty question",
					}),
				},
			},
		},
		Components: OpenAPIComponents{
			SecuritySchemes: map[string]OpenAPISecurityScheme{
				"bearerAuth": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
			},
			Schemas: componentSchemas(),
		},
	}
}

func componentSchemas() map[string]OpenAPISchema {
	str := func(description string) OpenAPISchema {
		return OpenAPISchema{Type: "string", Description: description}
	}
	uuidField := func(description string) OpenAPISchema {
		return OpenAPISchema{Type: "string", Format: "uuid", Description: description}
	}
	timeField := func(description string) OpenAPISchema {
		return OpenAPISchema{Type: "string", Format: "date-time", Description: description}
	}

	return map[string]OpenAPISchema{
		"HealthResponse": {
			Type:       "object",
			Properties: map[string]OpenAPISchema{"status": str("Health status")},
			Required:   []string{"status"},
		},
		"Chat": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"chat_id":       uuidField("Chat identifier"),
				"user_id":       uuidField("Owner"),
				"chat_name":     str("Chat name"),
				"creation_time": timeField("Creation time"),
			},
			Required: []string{"chat_id", "user_id", "chat_name"},
		},
		"ChatsResponse": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"chats": {Type: "array", Items: &OpenAPISchema{Ref: "#/components/schemas/Chat"}},
			},
			Required: []string{"chats"},
		},
		"CreateChatRequest": {
			Type:       "object",
			Properties: map[string]OpenAPISchema{"name": str("Chat name; defaults to \"New Chat\"")},
		},
		"RenameChatRequest": {
			Type:       "object",
			Properties: map[string]OpenAPISchema{"chat_name": str("New chat name")},
			Required:   []string{"chat_name"},
		},
		"UpdateMessageRequest": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"assistant": str("Replacement answer text"),
				"metadata":  {Type: "object", Description: "Replacement metadata"},
			},
		},
		"QuestionRequest": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"question": str("The question to answer"),
				"brain_id": uuidField("Target id, used when the brain_id query parameter is absent"),
			},
			Required: []string{"question"},
		},
		"QuestionAnswerRequest": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"question": str("Question text"),
				"answer":   str("Answer text"),
			},
			Required: []string{"question", "answer"},
		},
		"Source": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"name":    str("Document name"),
				"content": str("Document content"),
				"score":   {Type: "number", Format: "double", Description: "Relevance score"},
			},
			Required: []string{"name", "score"},
		},
		"Metadata": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"status":     {Type: "string", Enum: []string{"streaming", "completed", "cancelled", "failed"}},
				"mode":       {Type: "string", Enum: []string{"rag", "chat_with_llm"}},
				"model":      str("Model that produced the answer"),
				"brain_name": str("Brain or model display name"),
				"sources":    {Type: "array", Items: &OpenAPISchema{Ref: "#/components/schemas/Source"}},
			},
			Required: []string{"status", "mode", "model"},
		},
		"Answer": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"chat_id":      uuidField("Chat identifier"),
				"message_id":   uuidField("Message identifier"),
				"user_message": str("The question"),
				"assistant":    str("The answer"),
				"brain_id":     uuidField("Brain used, absent for direct model chat"),
				"brain_name":   str("Brain or model name"),
				"metadata":     ref("Metadata"),
				"message_time": timeField("Time the turn was recorded"),
			},
			Required: []string{"chat_id", "message_id", "user_message", "assistant", "metadata"},
		},
		"AnswerFragment": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"chat_id":      uuidField("Chat identifier"),
				"message_id":   uuidField("Message identifier, the same for every fragment"),
				"user_message": str("The question"),
				"assistant":    str("Answer text so far"),
				"delta":        str("Text added by this fragment"),
				"brain_id":     uuidField("Brain used, absent for direct model chat"),
				"brain_name":   str("Brain or model name"),
				"metadata":     ref("Metadata"),
			},
			Required: []string{"chat_id", "message_id", "assistant", "delta"},
		},
		"StreamEvent": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"type":       {Type: "string", Enum: []string{EventChunk, EventDone, EventError}},
				"data":       ref("AnswerFragment"),
				"message_id": uuidField("Set on the done event"),
				"error":      ref("ErrorDetail"),
			},
			Required: []string{"type"},
		},
		"Turn": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"message_id":   uuidField("Message identifier"),
				"chat_id":      uuidField("Chat identifier"),
				"user_message": str("The question"),
				"assistant":    str("The answer"),
				"brain_id":     uuidField("Brain used"),
				"metadata":     {Type: "object"},
				"message_time": timeField("Time the turn was recorded"),
			},
			Required: []string{"message_id", "chat_id", "user_message", "assistant"},
		},
		"HistoryItem": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"item_type": {Type: "string", Enum: []string{"MESSAGE", "NOTIFICATION"}},
				"body":      {Type: "object", Description: "A Turn or a notification"},
			},
			Required: []string{"item_type", "body"},
		},
		"HistoryResponse": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"history": {Type: "array", Items: &OpenAPISchema{Ref: "#/components/schemas/HistoryItem"}},
			},
			Required: []string{"history"},
		},
		"MessageResponse": {
			Type:       "object",
			Properties: map[string]OpenAPISchema{"message": str("Confirmation")},
			Required:   []string{"message"},
		},
		"ErrorResponse": {
			Type:       "object",
			Properties: map[string]OpenAPISchema{"error": ref("ErrorDetail")},
			Required:   []string{"error"},
		},
		"ErrorDetail": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"code":    str("Error code"),
				"message": str("Error message"),
			},
			Required: []string{"code", "message"},
		},
	}
}
