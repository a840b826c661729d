package server

import (
	"context"
	"sort"
	"strings"
	"sync"

	mcperrors "github.com/ajitpratap0/mcp-server-core/pkg/errors"
	"github.com/ajitpratap0/mcp-server-core/pkg/protocol"
)

// StaticResourceProvider serves an in-memory set of resources and templates.
// It is safe for concurrent use.
type StaticResourceProvider struct {
	mu        sync.RWMutex
	resources map[string]staticResource
	templates []protocol.ResourceTemplate
}

type staticResource struct {
	resource protocol.Resource
	contents []protocol.ResourceContents
}

// NewStaticResourceProvider creates an empty StaticResourceProvider
func NewStaticResourceProvider() *StaticResourceProvider {
	return &StaticResourceProvider{
		resources: make(map[string]staticResource),
	}
}

// AddTextResource registers a resource whose contents are text.
func (p *StaticResourceProvider) AddTextResource(resource protocol.Resource, text string) {
	p.AddResource(resource, protocol.ResourceContents{
		URI:      resource.URI,
		MimeType: resource.MimeType,
		Text:     text,
	})
}

// AddResource registers a resource, replacing any with the same URI.
func (p *StaticResourceProvider) AddResource(resource protocol.Resource, contents ...protocol.ResourceContents) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resources[resource.URI] = staticResource{resource: resource, contents: contents}
}

// RemoveResource removes a resource. It reports whether it existed.
func (p *StaticResourceProvider) RemoveResource(uri string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.resources[uri]
	delete(p.resources, uri)
	return ok
}

// AddTemplate registers a resource template
func (p *StaticResourceProvider) AddTemplate(template protocol.ResourceTemplate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.templates = append(p.templates, template)
}

// ListResources returns all resources sorted by URI
func (p *StaticResourceProvider) ListResources(ctx context.Context) ([]protocol.Resource, error) {
	p.mu.RLock()
	resources := make([]protocol.Resource, 0, len(p.resources))
	for _, r := range p.resources {
		resources = append(resources, r.resource)
	}
	p.mu.RUnlock()

	sort.Slice(resources, func(i, j int) bool { return resources[i].URI < resources[j].URI })
	return resources, nil
}

// ListResourceTemplates returns the templates in registration order
func (p *StaticResourceProvider) ListResourceTemplates(ctx context.Context) ([]protocol.ResourceTemplate, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]protocol.ResourceTemplate{}, p.templates...), nil
}

// ReadResource returns the contents registered for uri
func (p *StaticResourceProvider) ReadResource(ctx context.Context, uri string) ([]protocol.ResourceContents, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r, ok := p.resources[uri]
	if !ok {
		return nil, mcperrors.NotFound(mcperrors.ErrResourceNotFound, uri)
	}
	return append([]protocol.ResourceContents{}, r.contents...), nil
}

// StaticPromptProvider serves prompts whose messages are text templates.
// "{{name}}" in a message is replaced by the argument of that name.
type StaticPromptProvider struct {
	mu      sync.RWMutex
	prompts map[string]staticPrompt
}

type staticPrompt struct {
	prompt   protocol.Prompt
	messages []protocol.PromptMessage
}

// NewStaticPromptProvider creates an empty StaticPromptProvider
func NewStaticPromptProvider() *StaticPromptProvider {
	return &StaticPromptProvider{
		prompts: make(map[string]staticPrompt),
	}
}

// AddPrompt registers a prompt, replacing any with the same name.
func (p *StaticPromptProvider) AddPrompt(prompt protocol.Prompt, messages ...protocol.PromptMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts[prompt.Name] = staticPrompt{prompt: prompt, messages: messages}
}

// ListPrompts returns all prompts sorted by name
func (p *StaticPromptProvider) ListPrompts(ctx context.Context) ([]protocol.Prompt, error) {
	p.mu.RLock()
	prompts := make([]protocol.Prompt, 0, len(p.prompts))
	for _, sp := range p.prompts {
		prompts = append(prompts, sp.prompt)
	}
	p.mu.RUnlock()

	sort.Slice(prompts, func(i, j int) bool { return prompts[i].Name < prompts[j].Name })
	return prompts, nil
}

// GetPrompt renders the named prompt. A missing required argument is an
// Invalid Params error.
func (p *StaticPromptProvider) GetPrompt(ctx context.Context, name string, args map[string]string) (*protocol.GetPromptResult, error) {
	p.mu.RLock()
	sp, ok := p.prompts[name]
	p.mu.RUnlock()
	if !ok {
		return nil, mcperrors.NotFound(mcperrors.ErrPromptNotFound, name)
	}

	for _, arg := range sp.prompt.Arguments {
		if _, present := args[arg.Name]; arg.Required && !present {
			return nil, mcperrors.InvalidParamsf("prompt %q requires argument %q", name, arg.Name)
		}
	}

	replacements := make([]string, 0, len(args)*2)
	for k, v := range args {
		replacements = append(replacements, "{{"+k+"}}", v)
	}
	replacer := strings.NewReplacer(replacements...)

	messages := make([]protocol.PromptMessage, len(sp.messages))
	for i, msg := range sp.messages {
		messages[i] = msg
		if msg.Content.Type == protocol.ContentTypeText {
			messages[i].Content.Text = replacer.Replace(msg.Content.Text)
		}
	}

	return &protocol.GetPromptResult{
		Description: sp.prompt.Description,
		Messages:    messages,
	}, nil
}
