package mcp

import (
	"encoding/json"

	"github.com/jg-phare/mcphub/pkg/types"
)

// ProtocolVersion is the MCP revision announced during initialize.
const ProtocolVersion = "2024-11-05"

// MCP method constants.
const (
	MethodInitialize       = "initialize"
	MethodInitialized      = "notifications/initialized"
	MethodToolsList        = "tools/list"
	MethodToolsCall        = "tools/call"
	MethodPing             = "ping"
	MethodToolsListChanged = "notifications/tools/list_changed"
)

// ClientCapabilities declares what the client supports (sent during initialize).
type ClientCapabilities struct {
	Experimental map[string]any   `json:"experimental,omitempty"`
	Roots        *RootsCapability `json:"roots,omitempty"`
}

// RootsCapability is declared empty; we never serve roots/list.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities declares what the server supports (returned during initialize).
type ServerCapabilities struct {
	Tools     *ToolsCapability `json:"tools,omitempty"`
	Resources json.RawMessage  `json:"resources,omitempty"`
	Prompts   json.RawMessage  `json:"prompts,omitempty"`
	Logging   json.RawMessage  `json:"logging,omitempty"`
}

// ToolsCapability indicates the server supports tool operations.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeParams is sent by the client to begin the initialize handshake.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ClientInfo         `json:"clientInfo"`
}

// ClientInfo identifies the client implementation.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is returned by the server from the initialize handshake.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      types.ServerInfo   `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// ToolInfo describes a tool as it appears on the wire.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolsListParams requests a page of tools.
type ToolsListParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ToolsListResult is the response from tools/list.
type ToolsListResult struct {
	Tools      []ToolInfo `json:"tools"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// ToolCallParams is the request body for tools/call.
type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// CallToolResult is the response from tools/call.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is a single content item in a tools/call result.
type ContentBlock struct {
	Type        string            `json:"type"` // "text", "image", "resource", "resource_link"
	Text        string            `json:"text,omitempty"`
	MimeType    string            `json:"mimeType,omitempty"`
	Data        string            `json:"data,omitempty"` // base64 for images
	URI         string            `json:"uri,omitempty"`  // resource_link
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Resource    *ResourceContents `json:"resource,omitempty"` // embedded resource
}

// ResourceContents is the payload of an embedded resource block.
type ResourceContents struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Text        string `json:"text,omitempty"`
	Blob        string `json:"blob,omitempty"`
}

// toContentItems maps wire content blocks into typed content items.
// Unknown block types with text degrade to text; others are dropped.
func toContentItems(blocks []ContentBlock) []types.ContentItem {
	items := make([]types.ContentItem, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			items = append(items, types.TextContent(b.Text))
		case "image":
			items = append(items, types.ContentItem{
				Type:     types.ContentImage,
				Data:     b.Data,
				MimeType: b.MimeType,
			})
		case "resource", "resource_link":
			item := types.ContentItem{
				Type:        types.ContentResource,
				URI:         b.URI,
				Name:        b.Name,
				Description: b.Description,
				MimeType:    b.MimeType,
			}
			if r := b.Resource; r != nil {
				item.URI = r.URI
				item.Text = r.Text
				if r.Name != "" {
					item.Name = r.Name
				}
				if r.Description != "" {
					item.Description = r.Description
				}
				if r.MimeType != "" {
					item.MimeType = r.MimeType
				}
			}
			items = append(items, item)
		default:
			if b.Text != "" {
				items = append(items, types.TextContent(b.Text))
			}
		}
	}
	return items
}
