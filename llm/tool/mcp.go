package tool

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/common/logger"
)

// RegisterMCPServers connects to each configured MCP server, lists its
// tools and merges them into the registry. A server that cannot be reached
// is logged and skipped so a down remote never blocks startup. Server specs
// accept stdio://<command> for subprocess servers and http(s) URLs for
// streamable HTTP servers.
func RegisterMCPServers(ctx context.Context, registry *Registry, servers []string) {
	for _, spec := range servers {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		if err := registerMCPServer(ctx, registry, spec); err != nil {
			logger.Logger.Warn("mcp server unavailable, skipping",
				zap.String("server", spec),
				zap.Error(err))
		}
	}
}

func registerMCPServer(ctx context.Context, registry *Registry, spec string) error {
	transport, err := mcpTransport(ctx, spec)
	if err != nil {
		return errors.Wrap(err, "build transport")
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "llmstudio", Version: "dev"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return errors.Wrap(err, "connect")
	}

	count := 0
	for remote, err := range session.Tools(ctx, nil) {
		if err != nil {
			return errors.Wrap(err, "list tools")
		}
		schema, err := mcpSchema(remote.InputSchema)
		if err != nil {
			logger.Logger.Warn("mcp tool has unusable schema, skipping",
				zap.String("server", spec),
				zap.String("tool", remote.Name),
				zap.Error(err))
			continue
		}

		name := remote.Name
		description := remote.Description
		registry.Add(name, func() (*Spec, error) {
			return NewSpec(name, description, schema, mcpHandler(session, name)), nil
		})
		count++
	}

	logger.Logger.Info("registered mcp server tools",
		zap.String("server", spec),
		zap.Int("tools", count))
	return nil
}

func mcpHandler(session *mcpsdk.ClientSession, name string) Handler {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		ctx, cancel := context.WithTimeout(ctx, time.Duration(config.ToolTimeout)*time.Second)
		defer cancel()

		result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: input})
		if err != nil {
			return nil, errors.Wrapf(err, "call mcp tool %s", name)
		}

		var texts []string
		for _, content := range result.Content {
			if text, ok := content.(*mcpsdk.TextContent); ok {
				texts = append(texts, text.Text)
			}
		}
		return map[string]any{"content": strings.Join(texts, "\n")}, nil
	}
}

func mcpTransport(ctx context.Context, spec string) (mcpsdk.Transport, error) {
	lowered := strings.ToLower(spec)
	switch {
	case strings.HasPrefix(lowered, "stdio://"):
		parts := strings.Fields(spec[len("stdio://"):])
		if len(parts) == 0 {
			return nil, errors.New("stdio command is empty")
		}
		return &mcpsdk.CommandTransport{Command: exec.CommandContext(ctx, parts[0], parts[1:]...)}, nil
	case strings.HasPrefix(lowered, "http://"), strings.HasPrefix(lowered, "https://"):
		return &mcpsdk.StreamableClientTransport{Endpoint: spec}, nil
	default:
		return nil, errors.Errorf("unsupported mcp transport %q", spec)
	}
}

// mcpSchema normalizes whatever schema shape the SDK surfaces into the
// plain map vendors accept.
func mcpSchema(raw any) (map[string]any, error) {
	if raw == nil {
		return map[string]any{"type": "object"}, nil
	}
	if schema, ok := raw.(map[string]any); ok {
		return schema, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "marshal schema")
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, errors.Wrap(err, "unmarshal schema")
	}
	return schema, nil
}
