package mcpserver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolDescriptor is the static shape returned by tools/list.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// tool pairs a descriptor with its compiled schema, used to validate
// tools/call arguments before dispatch.
type tool struct {
	descriptor ToolDescriptor
	schema     *jsonschema.Schema
}

const (
	roomIDPattern  = "^r:[a-z0-9-]+$"
	workspaceIDPattern = "^w:[a-z0-9-]+$"
	documentIDPattern  = "^d:[a-f0-9-]+$"
	maxMessageBodyBytes = 8000
)

var toolSchemas = map[string]string{
	"messenger.list_rooms": `{
		"type": "object",
		"properties": {},
		"additionalProperties": false
	}`,
	"messenger.send": fmt.Sprintf(`{
		"type": "object",
		"required": ["room_id", "type", "body"],
		"properties": {
			"room_id": {"type": "string", "pattern": %q},
			"type": {"type": "string", "enum": ["text", "system"]},
			"body": {
				"type": "object",
				"required": ["text"],
				"properties": {"text": {"type": "string", "maxLength": %d}}
			},
			"reply_to": {"type": "string"},
			"client_request_id": {"type": "string"}
		},
		"additionalProperties": false
	}`, roomIDPattern, maxMessageBodyBytes),
	"messenger.history": fmt.Sprintf(`{
		"type": "object",
		"required": ["room_id"],
		"properties": {
			"room_id": {"type": "string", "pattern": %q},
			"cursor": {"type": "integer", "minimum": 1},
			"limit": {"type": "integer", "minimum": 1, "maximum": 200}
		},
		"additionalProperties": false
	}`, roomIDPattern),
	"office.document.create": fmt.Sprintf(`{
		"type": "object",
		"required": ["workspace_id", "title", "content"],
		"properties": {
			"workspace_id": {"type": "string", "pattern": %q},
			"title": {"type": "string", "minLength": 1},
			"content": {"type": "string"}
		},
		"additionalProperties": false
	}`, workspaceIDPattern),
	"office.document.get": fmt.Sprintf(`{
		"type": "object",
		"required": ["workspace_id", "document_id"],
		"properties": {
			"workspace_id": {"type": "string", "pattern": %q},
			"document_id": {"type": "string", "pattern": %q}
		},
		"additionalProperties": false
	}`, workspaceIDPattern, documentIDPattern),
	"office.document.search": fmt.Sprintf(`{
		"type": "object",
		"required": ["workspace_id", "query"],
		"properties": {
			"workspace_id": {"type": "string", "pattern": %q},
			"query": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`, workspaceIDPattern),
	"office.llm.complete": fmt.Sprintf(`{
		"type": "object",
		"required": ["workspace_id", "prompt"],
		"properties": {
			"workspace_id": {"type": "string", "pattern": %q},
			"prompt": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`, workspaceIDPattern),
}

var toolDescriptions = map[string]string{
	"messenger.list_rooms":   "List the rooms visible to the caller's tenant.",
	"messenger.send":         "Send a text or system message to a room.",
	"messenger.history":      "Fetch a page of a room's message history.",
	"office.document.create": "Create a document in a workspace.",
	"office.document.get":    "Fetch a document by id from a workspace.",
	"office.document.search": "Search a workspace's documents by substring.",
	"office.llm.complete":    "Run a stubbed completion against a prompt.",
}

// toolOrder is tools/list's fixed iteration order; map order is not
// stable and the tool list is a contract.
var toolOrder = []string{
	"messenger.list_rooms",
	"messenger.send",
	"messenger.history",
	"office.document.create",
	"office.document.get",
	"office.document.search",
	"office.llm.complete",
}

// buildTools compiles every schema in toolSchemas once at server
// construction time; a compile failure here is a programmer error, not
// a runtime condition, so it panics.
func buildTools() map[string]tool {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	tools := make(map[string]tool, len(toolOrder))
	for _, name := range toolOrder {
		raw, ok := toolSchemas[name]
		if !ok {
			panic("mcpserver: no schema registered for tool " + name)
		}
		url := fmt.Sprintf("https://ubl.dev/schemas/mcp/%s.schema.json", name)
		if err := compiler.AddResource(url, strings.NewReader(raw)); err != nil {
			panic("mcpserver: failed to register schema for " + name + ": " + err.Error())
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			panic("mcpserver: failed to compile schema for " + name + ": " + err.Error())
		}
		tools[name] = tool{
			descriptor: ToolDescriptor{
				Name:        name,
				Description: toolDescriptions[name],
				InputSchema: json.RawMessage(raw),
			},
			schema: schema,
		}
	}
	return tools
}
