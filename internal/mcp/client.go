// Package mcp provides a thin client wrapper over the Model Context Protocol
// SDK, used to invoke a single external tool (e.g. a URL-reputation scanner)
// over stdio or streamable HTTP.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	mcppkg "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Transport selects how the MCP server process or endpoint is reached.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is one of the recognised transport kinds.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes how to connect to a single MCP tool server.
type ServerConfig struct {
	Name      string
	Transport Transport
	Command   string
	Args      []string
	URL       string
	Env       map[string]string
}

// Client holds one connected MCP session and calls tools on it by name.
type Client struct {
	session *mcppkg.ClientSession
}

// Dial connects to the MCP server described by cfg and returns a ready
// Client. The caller owns the returned Client and must call Close.
func Dial(ctx context.Context, clientName, clientVersion string, cfg ServerConfig) (*Client, error) {
	client := mcppkg.NewClient(&mcppkg.Implementation{Name: clientName, Version: clientVersion}, nil)

	var (
		session *mcppkg.ClientSession
		err     error
	)
	switch cfg.Transport {
	case TransportStdio:
		cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
		session, err = client.Connect(ctx, &mcppkg.CommandTransport{Command: cmd}, nil)
	case TransportStreamableHTTP:
		transport := &mcppkg.StreamableClientTransport{Endpoint: cfg.URL}
		session, err = client.Connect(ctx, transport, nil)
	default:
		return nil, fmt.Errorf("mcp: server %q: unsupported transport %q", cfg.Name, cfg.Transport)
	}
	if err != nil {
		return nil, fmt.Errorf("mcp: connect to %q: %w", cfg.Name, err)
	}
	return &Client{session: session}, nil
}

// CallTool invokes the named tool with args marshalled as its JSON input and
// returns the concatenated text content of the result.
func (c *Client) CallTool(ctx context.Context, name string, args any) (string, error) {
	res, err := c.session.CallTool(ctx, &mcppkg.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("mcp: call tool %q: %w", name, err)
	}
	if res.IsError {
		return "", fmt.Errorf("mcp: tool %q reported an error result", name)
	}

	var out string
	for _, content := range res.Content {
		if tc, ok := content.(*mcppkg.TextContent); ok {
			out += tc.Text
		}
	}
	return out, nil
}

// CallToolJSON is CallTool followed by json.Unmarshal of the text content
// into v.
func (c *Client) CallToolJSON(ctx context.Context, name string, args any, v any) error {
	text, err := c.CallTool(ctx, name, args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("mcp: decode %q result: %w", name, err)
	}
	return nil
}

// Close closes the underlying MCP session.
func (c *Client) Close() error {
	return c.session.Close()
}
