package server

import (
	"context"
	"encoding/json"
	"sync"

	mcperrors "github.com/ajitpratap0/mcp-server-core/pkg/errors"
	"github.com/ajitpratap0/mcp-server-core/pkg/logging"
	"github.com/ajitpratap0/mcp-server-core/pkg/observability"
	"github.com/ajitpratap0/mcp-server-core/pkg/protocol"
)

// ResourceProvider defines the interface for providing resources functionality
type ResourceProvider interface {
	// ListResources returns the resources this provider exposes
	ListResources(ctx context.Context) ([]protocol.Resource, error)

	// ReadResource returns the contents of uri, or an error if this
	// provider does not serve it
	ReadResource(ctx context.Context, uri string) ([]protocol.ResourceContents, error)
}

// ResourceTemplateProvider is implemented by resource providers that also
// expose URI templates.
type ResourceTemplateProvider interface {
	ListResourceTemplates(ctx context.Context) ([]protocol.ResourceTemplate, error)
}

// ToolProvider defines the interface for providing tools functionality
type ToolProvider interface {
	// ListTools returns the tools this provider exposes
	ListTools(ctx context.Context) ([]protocol.Tool, error)

	// CallTool executes a tool and returns the result
	CallTool(ctx context.Context, name string, args json.RawMessage) (*protocol.CallToolResult, error)
}

// PromptProvider defines the interface for providing prompts functionality
type PromptProvider interface {
	// ListPrompts returns the prompts this provider exposes
	ListPrompts(ctx context.Context) ([]protocol.Prompt, error)

	// GetPrompt renders a prompt with the given arguments
	GetPrompt(ctx context.Context, name string, args map[string]string) (*protocol.GetPromptResult, error)
}

// Registry holds ordered lists of providers per capability kind. List calls
// aggregate in registration order and fail on the first provider error.
// Lookups return the first provider that succeeds, so providers registered
// earlier shadow later ones.
type Registry struct {
	mu        sync.RWMutex
	resources []ResourceProvider
	tools     []ToolProvider
	prompts   []PromptProvider

	logger   logging.Logger
	observer *observability.Observer
}

// NewRegistry creates an empty registry. observer may be nil.
func NewRegistry(logger logging.Logger, observer *observability.Observer) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		logger:   logger.WithFields(logging.String("component", "registry")),
		observer: observer,
	}
}

// RegisterResourceProvider appends a resource provider.
func (r *Registry) RegisterResourceProvider(p ResourceProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources = append(r.resources, p)
}

// RegisterToolProvider appends a tool provider.
func (r *Registry) RegisterToolProvider(p ToolProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools = append(r.tools, p)
}

// RegisterPromptProvider appends a prompt provider.
func (r *Registry) RegisterPromptProvider(p PromptProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, p)
}

func (r *Registry) resourceProviders() []ResourceProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ResourceProvider(nil), r.resources...)
}

func (r *Registry) toolProviders() []ToolProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ToolProvider(nil), r.tools...)
}

func (r *Registry) promptProviders() []PromptProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]PromptProvider(nil), r.prompts...)
}

// ListResources concatenates every provider's resources.
func (r *Registry) ListResources(ctx context.Context) (resources []protocol.Resource, err error) {
	done := r.observer.ObserveProvider("resources", "list")
	defer func() { done(err) }()

	resources = []protocol.Resource{}
	for _, p := range r.resourceProviders() {
		items, err := p.ListResources(ctx)
		if err != nil {
			return nil, err
		}
		resources = append(resources, items...)
	}
	return resources, nil
}

// ListResourceTemplates concatenates the templates of every resource
// provider that implements ResourceTemplateProvider.
func (r *Registry) ListResourceTemplates(ctx context.Context) (templates []protocol.ResourceTemplate, err error) {
	done := r.observer.ObserveProvider("resources", "list_templates")
	defer func() { done(err) }()

	templates = []protocol.ResourceTemplate{}
	for _, p := range r.resourceProviders() {
		tp, ok := p.(ResourceTemplateProvider)
		if !ok {
			continue
		}
		items, err := tp.ListResourceTemplates(ctx)
		if err != nil {
			return nil, err
		}
		templates = append(templates, items...)
	}
	return templates, nil
}

// ReadResource returns the first successful read of uri.
func (r *Registry) ReadResource(ctx context.Context, uri string) (contents []protocol.ResourceContents, err error) {
	done := r.observer.ObserveProvider("resources", "read")
	defer func() { done(err) }()

	for _, p := range r.resourceProviders() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		contents, err := p.ReadResource(ctx, uri)
		if err == nil {
			return contents, nil
		}
		r.logger.Debug("resource provider miss", logging.String("uri", uri), logging.ErrorField(err))
	}
	return nil, mcperrors.NotFound(mcperrors.ErrResourceNotFound, uri)
}

// ListTools concatenates every provider's tools.
func (r *Registry) ListTools(ctx context.Context) (tools []protocol.Tool, err error) {
	done := r.observer.ObserveProvider("tools", "list")
	defer func() { done(err) }()

	tools = []protocol.Tool{}
	for _, p := range r.toolProviders() {
		items, err := p.ListTools(ctx)
		if err != nil {
			return nil, err
		}
		tools = append(tools, items...)
	}
	return tools, nil
}

// ExecuteTool returns the first successful call of name.
func (r *Registry) ExecuteTool(ctx context.Context, name string, args json.RawMessage) (result *protocol.CallToolResult, err error) {
	done := r.observer.ObserveProvider("tools", "call")
	defer func() { done(err) }()

	for _, p := range r.toolProviders() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := p.CallTool(ctx, name, args)
		if err == nil {
			return result, nil
		}
		r.logger.Debug("tool provider miss", logging.String("tool", name), logging.ErrorField(err))
	}
	return nil, mcperrors.NotFound(mcperrors.ErrToolNotFound, name)
}

// ListPrompts concatenates every provider's prompts.
func (r *Registry) ListPrompts(ctx context.Context) (prompts []protocol.Prompt, err error) {
	done := r.observer.ObserveProvider("prompts", "list")
	defer func() { done(err) }()

	prompts = []protocol.Prompt{}
	for _, p := range r.promptProviders() {
		items, err := p.ListPrompts(ctx)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, items...)
	}
	return prompts, nil
}

// GetPrompt returns the first successful rendering of name. An Invalid
// Params error, such as a missing required argument, stops the search.
func (r *Registry) GetPrompt(ctx context.Context, name string, args map[string]string) (result *protocol.GetPromptResult, err error) {
	done := r.observer.ObserveProvider("prompts", "get")
	defer func() { done(err) }()

	for _, p := range r.promptProviders() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := p.GetPrompt(ctx, name, args)
		if err == nil {
			return result, nil
		}
		if mcperrors.IsCode(err, mcperrors.CodeInvalidParams) && !mcperrors.IsCategory(err, mcperrors.CategoryNotFound) {
			return nil, err
		}
		r.logger.Debug("prompt provider miss", logging.String("prompt", name), logging.ErrorField(err))
	}
	return nil, mcperrors.NotFound(mcperrors.ErrPromptNotFound, name)
}
