package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/agentkit/internal/agent"
	"github.com/MimeLyc/agentkit/internal/config"
	"github.com/MimeLyc/agentkit/internal/llm"
	"github.com/MimeLyc/agentkit/internal/memory"
	"github.com/MimeLyc/agentkit/internal/persistence"
	"github.com/MimeLyc/agentkit/internal/prompt"
	"github.com/MimeLyc/agentkit/internal/provider"
	"github.com/MimeLyc/agentkit/internal/provider/anthropic"
	"github.com/MimeLyc/agentkit/internal/provider/compat"
	"github.com/MimeLyc/agentkit/internal/provider/openai"
	"github.com/MimeLyc/agentkit/internal/schema"
	"github.com/MimeLyc/agentkit/internal/tools"
	"github.com/MimeLyc/agentkit/pkg/log"
)

const (
	defaultOpenAIURL      = "https://api.openai.com/v1"
	defaultEmbeddingModel = "text-embedding-3-small"
)

// ChatAgent answers free text with free text.
type ChatAgent = agent.Agent[schema.AgentInput, schema.AgentOutput]

// DispatchAgent picks a tool for the caller to run or answers directly.
type DispatchAgent = agent.Agent[schema.AgentInput, schema.DispatchOutput]

// App is everything the chatbot needs, built from one Config.
type App struct {
	Config   config.Config
	Provider provider.Provider
	Memory   *memory.Manager
	Tools    *tools.Registry
	Chat     *ChatAgent
	Dispatch *DispatchAgent

	store memory.Store
}

// Build wires providers, memory, tools and agents from cfg. The caller must
// Close the returned App.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	p, err := NewProvider(cfg.LLM)
	if err != nil {
		return nil, WrapError(err, ErrProvider, "failed to create provider").WithContext("provider", cfg.LLM.Provider)
	}

	app := &App{Config: cfg, Provider: p}

	store, err := NewStore(ctx, cfg.Memory)
	if err != nil {
		return nil, WrapError(err, ErrMemory, "failed to open memory store").WithContext("backend", cfg.Memory.Backend)
	}
	app.store = store

	embedder, err := NewEmbedder(cfg, p)
	if err != nil {
		app.Close()
		return nil, WrapError(err, ErrMemory, "failed to create embedder").WithContext("embedder", cfg.Memory.Embedder)
	}
	app.Memory = memory.NewManager(memory.NewVectorService(embedder, store))

	registry, err := NewRegistry(cfg, app.Memory)
	if err != nil {
		app.Close()
		return nil, WrapError(err, ErrTools, "failed to register tools")
	}
	app.Tools = registry

	agentCfg := agent.Config{
		Provider:           p,
		Tools:              registry,
		Prompt:             NewPromptBuilder(cfg.Profile),
		MemoryQueryResults: cfg.Memory.QueryResults,
		MemoryFilter:       cfg.Profile.Memory.Filter,
	}
	if cfg.Memory.Enabled {
		agentCfg.Memory = app.Memory
	}
	if app.Chat, err = agent.New[schema.AgentInput, schema.AgentOutput](agentCfg); err != nil {
		app.Close()
		return nil, WrapError(err, ErrConfig, "failed to create chat agent")
	}

	dispatchCfg := agentCfg
	dispatchCfg.Tools = nil
	dispatchCfg.Prompt = NewDispatchPromptBuilder(cfg.Profile, registry)
	if app.Dispatch, err = agent.New[schema.AgentInput, schema.DispatchOutput](dispatchCfg); err != nil {
		app.Close()
		return nil, WrapError(err, ErrConfig, "failed to create dispatch agent")
	}

	log.Info("Agent ready: provider=%s tools=%s memory=%s",
		p.Name(), strings.Join(registry.Names(), ","), cfg.Memory.Backend)
	return app, nil
}

// ScheduleRetention registers the memory retention sweep with c when
// retention is configured. It reports whether a sweep was scheduled.
func (a *App) ScheduleRetention(ctx context.Context, c *cron.Cron) (bool, error) {
	if !a.Config.Memory.RetentionEnabled() {
		return false, nil
	}
	sweeper, err := memory.NewSweeper(a.Memory, a.Config.Memory.RetentionCron, a.Config.Memory.MaxAge, c)
	if err != nil {
		return false, WrapError(err, ErrConfig, "invalid memory retention settings")
	}
	if err := sweeper.Schedule(ctx); err != nil {
		return false, WrapError(err, ErrMemory, "failed to schedule memory retention")
	}
	return true, nil
}

func (a *App) Close() error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Close()
}

// NewProvider selects a provider by cfg.Provider.
func NewProvider(cfg config.LLMConfig) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderCompat, "":
		client, err := newLLMClient(cfg)
		if err != nil {
			return nil, err
		}
		return compat.New(client), nil
	case config.ProviderOpenAI:
		p, err := openai.New(openai.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.APIURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.TimeoutDuration(),
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.ProviderAnthropic:
		p, err := anthropic.New(anthropic.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.APIURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.TimeoutDuration(),
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func newLLMClient(cfg config.LLMConfig) (*llm.Client, error) {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = config.DefaultCompatURL
		if cfg.Provider == config.ProviderOpenAI {
			apiURL = defaultOpenAIURL
		}
	}
	model := cfg.Model
	if model == "" {
		model = config.DefaultCompatModel
		if cfg.Provider == config.ProviderOpenAI {
			model = openai.DefaultModel
		}
	}
	return llm.NewClient(&llm.Config{
		APIKey:         cfg.APIKey,
		APIURL:         apiURL,
		Model:          model,
		EmbeddingModel: cfg.EmbeddingModel,
		MaxTokens:      cfg.MaxTokens,
		Temperature:    cfg.Temperature,
		Timeout:        cfg.Timeout,
		SiteURL:        cfg.SiteURL,
		AppName:        cfg.AppName,
	})
}

// NewStore opens the memory store selected by cfg.Backend.
func NewStore(ctx context.Context, cfg config.MemoryConfig) (memory.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		store, err := persistence.NewSQLiteStore(cfg.DBPath, cfg.Collection)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendRedis:
		store, err := persistence.OpenRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix, cfg.Collection)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendMemory:
		return memory.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}

// NewEmbedder returns the embedder selected by cfg.Memory.Embedder. The
// openai embedder shares the client of an openai provider.
func NewEmbedder(cfg config.Config, p provider.Provider) (memory.Embedder, error) {
	model := cfg.LLM.EmbeddingModel
	if model == "" {
		model = defaultEmbeddingModel
	}

	switch cfg.Memory.Embedder {
	case config.EmbedderHash, "":
		return memory.NewHashEmbedder(0), nil
	case config.EmbedderOpenAI:
		op, ok := p.(*openai.Provider)
		if !ok {
			return nil, errors.New("the openai embedder needs the openai provider")
		}
		return memory.NewOpenAIEmbedder(op.Client(), model), nil
	case config.EmbedderCompat:
		client, err := newLLMClient(cfg.LLM)
		if err != nil {
			return nil, err
		}
		return memory.NewCompatEmbedder(client, model), nil
	default:
		return nil, fmt.Errorf("unknown embedder %q", cfg.Memory.Embedder)
	}
}

// NewRegistry registers the built-in tools allowed by the profile, then the
// command tools declared in cfg.Agent.ToolsPath.
func NewRegistry(cfg config.Config, mgr *memory.Manager) (*tools.Registry, error) {
	builtins := []tools.Tool{
		tools.NewCalculator(),
		tools.NewDocumentReader(tools.WithBaseDir(cfg.Agent.DocumentsDir)),
		tools.NewCSVOrderReader(cfg.Agent.OrdersFile),
		tools.NewLanguageDetector(),
	}
	if mgr != nil {
		builtins = append(builtins, tools.NewMemoryStore(mgr), tools.NewMemoryQuery(mgr))
	}
	if cfg.Search.APIKey != "" {
		builtins = append(builtins, tools.NewWebSearch(cfg.Search.APIKey, cfg.Search.APIURL))
	}

	registry, err := tools.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, tool := range builtins {
		if !cfg.Profile.Tools.Allows(tool.Name()) {
			log.Debug("Tool %s disabled by profile", tool.Name())
			continue
		}
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}

	commands, err := tools.LoadCommandTools(cfg.Agent.ToolsPath)
	if err != nil {
		return nil, err
	}
	for _, tool := range commands {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
		log.Info("Registered command tool %s", tool.Name())
	}
	return registry, nil
}

// NewPromptBuilder turns a profile into a system prompt builder.
func NewPromptBuilder(p config.Profile) *prompt.Builder {
	return prompt.New(roleOf(p), profileOptions(p, "")...)
}

// NewDispatchPromptBuilder lists the registry's tools with their parameter
// schemas and explains the dispatch output contract. The dispatch agent does
// not call tools itself; the caller runs the chosen one.
func NewDispatchPromptBuilder(p config.Profile, registry *tools.Registry) *prompt.Builder {
	var sb strings.Builder
	for _, def := range registry.Definitions() {
		fmt.Fprintf(&sb, "- %s: %s\n  parameters: %s\n", def.Function.Name, def.Function.Description, def.Function.Parameters)
	}

	order := []string{}
	for _, name := range orderOf(p) {
		if name == prompt.SectionTools {
			name = dispatchToolsSection
		}
		order = append(order, name)
	}

	opts := profileOptions(p, dispatchInstructions)
	opts = append(opts,
		prompt.WithSection(dispatchToolsSection, sb.String()),
		prompt.WithHeader(dispatchToolsSection, prompt.DefaultHeaders[prompt.SectionTools]),
		prompt.WithOrder(order...),
	)
	return prompt.New(roleOf(p), opts...)
}

const (
	dispatchToolsSection = "dispatch_tools"
	dispatchInstructions = `Decide whether one of the available tools is needed to answer.
If it is, set action to "use_tool", tool_name to the tool and tool_parameters to its arguments, and leave direct_response empty.
Otherwise set action to "respond" and put your answer in direct_response, leaving the tool fields empty.`
)

func roleOf(p config.Profile) string {
	if strings.TrimSpace(p.Role) == "" {
		return agent.DefaultSystemPrompt
	}
	return p.Role
}

func orderOf(p config.Profile) []string {
	if len(p.Order) > 0 {
		return p.Order
	}
	return prompt.DefaultOrder
}

func profileOptions(p config.Profile, extraOutput string) []prompt.Option {
	opts := []prompt.Option{prompt.WithCoreInstructions(p.CoreInstructions)}

	output := joinNonEmpty("\n", p.OutputInstructions, p.LanguageInstruction(), extraOutput)
	opts = append(opts, prompt.WithOutputInstructions(output))

	if p.SecurityInstructions != nil {
		opts = append(opts, prompt.WithSecurityInstructions(*p.SecurityInstructions))
	}
	if len(p.Order) > 0 {
		opts = append(opts, prompt.WithOrder(p.Order...))
	}
	for section, header := range p.Headers {
		opts = append(opts, prompt.WithHeader(section, header))
	}
	for name, content := range p.Sections {
		opts = append(opts, prompt.WithSection(name, content))
	}
	return opts
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if s := strings.TrimSpace(part); s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, sep)
}
