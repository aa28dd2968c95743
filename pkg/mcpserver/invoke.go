package mcpserver

import (
	"context"

	"github.com/ubl-core/ubl/pkg/apierr"
	"github.com/ubl-core/ubl/pkg/httpapi"
	"github.com/ubl-core/ubl/pkg/identity"
	"github.com/ubl-core/ubl/pkg/room"
)

// invoke dispatches a validated tool call onto the same App methods
// pkg/httpapi's handlers use, shaping each result to match its REST
// counterpart's success body per the tool server's isomorphism
// requirement.
func (s *Server) invoke(ctx context.Context, name string, args map[string]interface{}, id identity.Identity) (interface{}, error) {
	requestID := httpapi.GetRequestID(ctx)

	switch name {
	case "messenger.list_rooms":
		rooms, err := s.app.ListRooms(ctx, id)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"rooms": rooms, "next_cursor": nil}, nil

	case "messenger.send":
		roomID, _ := args["room_id"].(string)
		msgType, _ := args["type"].(string)
		bodyArg, _ := args["body"].(map[string]interface{})
		text, _ := bodyArg["text"].(string)
		clientRequestID, _ := args["client_request_id"].(string)
		var replyTo *string
		if v, ok := args["reply_to"].(string); ok {
			replyTo = &v
		}
		msg, err := s.app.SendMessage(ctx, id, roomID, room.SendInput{
			Type:            room.MessageType(msgType),
			Body:            room.Body{Text: text},
			ReplyTo:         replyTo,
			ClientRequestID: clientRequestID,
		}, requestID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"message": msg}, nil

	case "messenger.history":
		roomID, _ := args["room_id"].(string)
		var cursor *int64
		if v, ok := args["cursor"].(float64); ok {
			c := int64(v)
			cursor = &c
		}
		limit := 50
		if v, ok := args["limit"].(float64); ok {
			limit = int(v)
		}
		messages, next, err := s.app.GetHistory(ctx, id, roomID, cursor, limit)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"messages": messages, "next_cursor": next}, nil

	case "office.document.create":
		workspaceID, _ := args["workspace_id"].(string)
		title, _ := args["title"].(string)
		content, _ := args["content"].(string)
		doc, err := s.app.CreateDocument(ctx, id, workspaceID, title, content, requestID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"document": doc}, nil

	case "office.document.get":
		workspaceID, _ := args["workspace_id"].(string)
		documentID, _ := args["document_id"].(string)
		doc, err := s.app.GetDocument(ctx, id, workspaceID, documentID, requestID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"document": doc}, nil

	case "office.document.search":
		workspaceID, _ := args["workspace_id"].(string)
		query, _ := args["query"].(string)
		docs, err := s.app.SearchDocuments(ctx, id, workspaceID, query, requestID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"documents": docs}, nil

	case "office.llm.complete":
		workspaceID, _ := args["workspace_id"].(string)
		prompt, _ := args["prompt"].(string)
		completion, err := s.app.LLMComplete(ctx, id, workspaceID, prompt, requestID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"completion": completion.Text, "usage": completion.Usage}, nil

	default:
		return nil, apierr.New(apierr.CodeValidationError, "unreachable: unknown tool "+name)
	}
}
