// Package simulation is the thin façade mapping application commands
// onto the store, provider registry, prompt builder, event dice, memory
// collaborator, and runner.
package simulation

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/suPer8Hu/worldline/internal/apperr"
	"github.com/suPer8Hu/worldline/internal/eventbus"
	"github.com/suPer8Hu/worldline/internal/eventdice"
	"github.com/suPer8Hu/worldline/internal/memory"
	"github.com/suPer8Hu/worldline/internal/mqjobs"
	"github.com/suPer8Hu/worldline/internal/promptbuilder"
	"github.com/suPer8Hu/worldline/internal/provider"
	"github.com/suPer8Hu/worldline/internal/reportsnapshot"
	"github.com/suPer8Hu/worldline/internal/runner"
	"github.com/suPer8Hu/worldline/internal/store"
)

type EventDiceSettings struct {
	Enabled           bool
	GoodProb          float64
	BadProb           float64
	RebelProb         float64
	MinEvents         int
	MaxEvents         int
	DefaultHemisphere string
}

type MemorySettings struct {
	MaxSnippets int
	MaxChars    int
}

type Service struct {
	db *gorm.DB

	sessions      *store.SessionRepo
	branches      *store.BranchRepo
	messages      *store.MessageRepo
	interventions *store.InterventionRepo
	providerRepo  *store.ProviderRepo

	registry *provider.Registry
	bus      *eventbus.Bus
	memoryC  memory.Safe

	memoryQueue *mqjobs.Publisher

	debugMu     sync.RWMutex
	eventDice   EventDiceSettings
	memSettings MemorySettings

	runnerMgr *runner.Manager
}

func New(
	db *gorm.DB,
	sessions *store.SessionRepo,
	branches *store.BranchRepo,
	messages *store.MessageRepo,
	interventions *store.InterventionRepo,
	providerRepo *store.ProviderRepo,
	registry *provider.Registry,
	bus *eventbus.Bus,
	collab memory.Collaborator,
	eventDice EventDiceSettings,
	memSettings MemorySettings,
) *Service {
	return &Service{
		db:            db,
		sessions:      sessions,
		branches:      branches,
		messages:      messages,
		interventions: interventions,
		providerRepo:  providerRepo,
		registry:      registry,
		bus:           bus,
		memoryC:       memory.Safe{Inner: collab},
		eventDice:     eventDice,
		memSettings:   memSettings,
	}
}

// AttachRunner wires the runner manager after construction, breaking
// the Service <-> Manager initialization cycle (Manager needs a
// RoundExecutor, which Service implements).
func (s *Service) AttachRunner(mgr *runner.Manager) {
	s.runnerMgr = mgr
}

// SetMemoryQueue switches memory indexing from synchronous (the default,
// used when pub is nil) to asynchronous via RabbitMQ. GenerateNext
// publishes a job instead of calling the collaborator directly.
func (s *Service) SetMemoryQueue(pub *mqjobs.Publisher) {
	s.memoryQueue = pub
}

type CreateSessionInput struct {
	Title             string
	WorldPreset       string
	TickLabel         string
	PostGenDelaySec   int
	OutputLanguage    string
	TimelineStartISO  string
	TimelineStepValue int
	TimelineStepUnit  string
}

func (s *Service) CreateSession(in CreateSessionInput) (*store.Session, *store.Branch, error) {
	if in.WorldPreset == "" {
		return nil, nil, apperr.Validation("world_preset is required")
	}
	if in.PostGenDelaySec < 0 {
		return nil, nil, apperr.Validation("post_gen_delay_sec must be non-negative")
	}
	if in.TimelineStepValue <= 0 {
		in.TimelineStepValue = 1
	}
	if in.TimelineStepUnit == "" {
		in.TimelineStepUnit = "month"
	}
	if in.OutputLanguage == "" {
		in.OutputLanguage = "en"
	}
	return s.sessions.CreateSession(store.CreateSessionParams{
		Title:             in.Title,
		WorldPreset:       in.WorldPreset,
		TickLabel:         in.TickLabel,
		PostGenDelaySec:   in.PostGenDelaySec,
		OutputLanguage:    in.OutputLanguage,
		TimelineStartISO:  in.TimelineStartISO,
		TimelineStepValue: in.TimelineStepValue,
		TimelineStepUnit:  in.TimelineStepUnit,
	})
}

func (s *Service) GetSession(id string) (*store.Session, error) {
	return s.sessions.GetByID(id)
}

func (s *Service) ListRecentSessions(limit int) ([]store.Session, error) {
	return s.sessions.ListRecent(limit)
}

func (s *Service) UpdateSettings(id string, patch store.SettingsPatch) (*store.Session, error) {
	if _, err := s.sessions.GetByID(id); err != nil {
		return nil, err
	}
	return s.sessions.UpdateSettings(id, patch)
}

// Start enforces the precondition that a provider config with a
// selected model exists before the runner may begin generating.
func (s *Service) Start(sessionID string) error {
	if _, err := s.sessions.GetByID(sessionID); err != nil {
		return err
	}
	view, err := s.providerRepo.GetView(sessionID)
	if err != nil {
		return apperr.PreconditionFailed("no provider configured for session")
	}
	if view.ModelName == "" {
		return apperr.PreconditionFailed("NO_MODEL_SELECTED")
	}
	return s.runnerMgr.Start(sessionID)
}

func (s *Service) Pause(sessionID string) error {
	if _, err := s.sessions.GetByID(sessionID); err != nil {
		return err
	}
	return s.runnerMgr.Pause(sessionID)
}

func (s *Service) Resume(sessionID string) error {
	return s.Start(sessionID)
}

type ForkResult struct {
	Branch *store.Branch
	CutSeq int
}

func (s *Service) Fork(sourceBranchID string, fromMessageID *string) (*ForkResult, error) {
	branch, cutSeq, err := s.branches.Fork(sourceBranchID, fromMessageID)
	if err != nil {
		return nil, err
	}
	s.memoryC.OnFork(context.Background(), branch.SessionID, sourceBranchID, branch.ID, cutSeq)
	return &ForkResult{Branch: branch, CutSeq: cutSeq}, nil
}

func (s *Service) Switch(sessionID, branchID string) error {
	branch, err := s.branches.GetByID(branchID)
	if err != nil {
		return err
	}
	if branch.SessionID != sessionID {
		return apperr.NotFound("branch does not belong to session")
	}
	if branch.IsArchived {
		return apperr.PreconditionFailed("cannot switch to an archived branch")
	}
	if err := s.sessions.SetActiveBranch(sessionID, branchID); err != nil {
		return err
	}
	s.bus.Publish(sessionID, eventbus.BranchSwitched(branchID))
	return nil
}

func (s *Service) ListBranches(sessionID string) ([]store.Branch, error) {
	return s.branches.ListBySession(sessionID)
}

func (s *Service) ListTimeline(branchID string, beforeSeq *int, limit int) ([]store.TimelineMessage, error) {
	return s.messages.ListPage(branchID, beforeSeq, limit)
}

// DeleteLastMessage surfaces Busy (mapped to HTTP 409) when the runner
// is currently generating on the branch's session.
func (s *Service) DeleteLastMessage(ctx context.Context, branchID string) (*int, error) {
	branch, err := s.branches.GetByID(branchID)
	if err != nil {
		return nil, err
	}
	if s.runnerMgr != nil && s.runnerMgr.IsGenerating(branch.SessionID) {
		return nil, apperr.Busy("runner is currently generating on this branch")
	}
	deletedSeq, err := s.messages.DeleteLastMessage(ctx, branchID)
	if err != nil {
		return nil, err
	}
	return deletedSeq, nil
}

func (s *Service) EditMessage(id string, patch store.EditMessagePatch) (*store.TimelineMessage, error) {
	msg, err := s.messages.EditMessage(id, patch)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(msg.SessionID, eventbus.MessageUpdated(msg.BranchID, msg))
	return msg, nil
}

func (s *Service) Intervene(sessionID, branchID, content string) (*store.UserIntervention, error) {
	if content == "" {
		return nil, apperr.Validation("intervention content must not be empty")
	}
	return s.interventions.Enqueue(sessionID, branchID, content)
}

// --- Provider configuration ---

var supportedProviders = map[string]bool{"openai": true, "deepseek": true, "ollama": true, "gemini": true, "mock": true}

type SetProviderInput struct {
	SessionID string
	Provider  string
	BaseURL   string
	APIKey    *string
}

func (s *Service) SetProvider(ctx context.Context, in SetProviderInput) (*store.ProviderView, error) {
	if !supportedProviders[in.Provider] {
		return nil, apperr.Validation("unsupported provider: " + in.Provider)
	}
	return s.providerRepo.Upsert(store.UpsertProviderParams{
		SessionID: in.SessionID,
		Provider:  in.Provider,
		BaseURL:   in.BaseURL,
		APIKey:    in.APIKey,
	})
}

func (s *Service) ListModels(ctx context.Context, sessionID, providerName string) ([]string, error) {
	cfg, apiKey, err := s.providerRepo.GetDecrypted(sessionID)
	if err != nil {
		return nil, err
	}
	name := providerName
	if name == "" {
		name = cfg.Provider
	}
	adapter, err := s.registry.Build(ctx, name, provider.Config{BaseURL: cfg.BaseURL, APIKey: apiKey.Reveal(), ModelName: cfg.ModelName})
	if err != nil {
		return nil, err
	}
	models, err := adapter.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(sessionID, eventbus.ModelsLoaded(name, models))
	return models, nil
}

func (s *Service) SelectModel(ctx context.Context, sessionID, modelName string) (*store.ProviderView, error) {
	view, err := s.providerRepo.GetView(sessionID)
	if err != nil {
		return nil, err
	}
	models, err := s.ListModels(ctx, sessionID, view.Provider)
	if err != nil {
		return nil, err
	}
	found := false
	for _, m := range models {
		if m == modelName {
			found = true
			break
		}
	}
	if !found {
		return nil, apperr.Validation("model not available for provider: " + modelName)
	}
	return s.providerRepo.SelectModel(sessionID, modelName)
}

func (s *Service) GetProviderCurrent(sessionID string) (*store.ProviderView, error) {
	return s.providerRepo.GetView(sessionID)
}

// --- Round execution (runner.RoundExecutor) ---

// GenerateNext runs exactly one round: Snapshot, Prepare, Build,
// Generate, Persist, plus the memory hook. The runner publishes the
// message_created event for the returned message.
func (s *Service) GenerateNext(ctx context.Context, sessionID string) (*store.TimelineMessage, error) {
	sess, err := s.sessions.GetByID(sessionID)
	if err != nil {
		return nil, err
	}
	branchID := sess.ActiveBranchID

	window, err := s.messages.ListWindow(branchID, 20)
	if err != nil {
		return nil, err
	}

	cfg, apiKey, err := s.providerRepo.GetDecrypted(sessionID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.registry.Build(ctx, cfg.Provider, provider.Config{
		BaseURL: cfg.BaseURL, APIKey: apiKey.Reveal(), ModelName: cfg.ModelName,
	})
	if err != nil {
		return nil, err
	}

	// Interventions are only peeked here, not consumed: a transient
	// Generate failure must leave them pending so the retried round
	// picks them up again. They are marked consumed inside the same
	// transaction as AppendMessage below, after Generate succeeds.
	pending, err := s.interventions.ListPending(branchID)
	if err != nil {
		return nil, err
	}

	nextSeq := 1
	if len(window) > 0 {
		nextSeq = window[len(window)-1].Seq + 1
	}

	dice, memSettings := s.debugSettings()
	diceCfg := eventdice.Config{
		Enabled: dice.Enabled, GoodProb: dice.GoodProb, BadProb: dice.BadProb,
		RebelProb: dice.RebelProb, MinEvents: dice.MinEvents, MaxEvents: dice.MaxEvents,
		DefaultHemisphere: dice.DefaultHemisphere,
	}
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(nextSeq)))
	plan := eventdice.Build(diceCfg, eventdice.BuildParams{
		Timeline:          window,
		TimelineStartISO:  sess.TimelineStartISO,
		TimelineStepValue: sess.TimelineStepValue,
		TimelineStepUnit:  sess.TimelineStepUnit,
		NextSeq:           nextSeq,
		OutputLanguage:    sess.OutputLanguage,
	}, rng)

	queryText := sess.WorldPreset
	if len(pending) > 0 {
		queryText = pending[len(pending)-1].Content
	}
	snippets := s.memoryC.RetrieveContext(ctx, sessionID, branchID, queryText, memSettings.MaxSnippets, memSettings.MaxChars)

	messages := promptbuilder.Build(promptbuilder.Input{
		WorldPreset:          sess.WorldPreset,
		TickLabel:            sess.TickLabel,
		RecentMessages:       window,
		PendingInterventions: pending,
		MemorySnippets:       snippets,
		OutputLanguage:       sess.OutputLanguage,
		EventHint:            plan.Hint(),
	})

	result, err := adapter.Generate(ctx, messages, provider.GenerateOptions{ResponseFormat: "json"})
	if err != nil {
		return nil, err
	}

	var snapshotJSON *string
	if snap, ok := reportsnapshot.Parse(result.Text, sess.TickLabel); ok {
		raw, encErr := reportsnapshot.ToStorageJSON(*snap)
		if encErr == nil {
			snapshotJSON = &raw
		}
	}

	msg, err := s.messages.AppendMessage(ctx, store.AppendMessageParams{
		SessionID:      sessionID,
		BranchID:       branchID,
		Role:           store.RoleSystemReport,
		Content:        result.Text,
		TimeJumpLabel:  sess.TickLabel,
		ModelProvider:  cfg.Provider,
		ModelName:      cfg.ModelName,
		TokenIn:        result.TokenIn,
		TokenOut:       result.TokenOut,
		ReportSnapshot: snapshotJSON,
		AfterCreate: func(tx *gorm.DB, _ *store.TimelineMessage) error {
			_, err := s.interventions.ConsumePending(tx, branchID)
			return err
		},
	})
	if err != nil {
		return nil, err
	}

	if s.memoryQueue != nil {
		job := mqjobs.MemoryIndexJob{SessionID: sessionID, BranchID: branchID, MessageID: msg.ID}
		if pubErr := s.memoryQueue.PublishMemoryIndexJob(ctx, job); pubErr != nil {
			s.memoryC.OnMessagePersisted(ctx, sessionID, branchID, *msg)
		}
	} else {
		s.memoryC.OnMessagePersisted(ctx, sessionID, branchID, *msg)
	}

	return msg, nil
}

// PostGenDelay re-reads the session so a Pause issued during Generate
// is observed before the runner sleeps.
func (s *Service) PostGenDelay(sessionID string) (time.Duration, bool, error) {
	sess, err := s.sessions.GetByID(sessionID)
	if err != nil {
		return 0, false, err
	}
	return time.Duration(sess.PostGenDelaySec) * time.Second, sess.Running, nil
}

// --- Debug-tunable runtime settings (non-secret subset) ---

func (s *Service) debugSettings() (EventDiceSettings, MemorySettings) {
	s.debugMu.RLock()
	defer s.debugMu.RUnlock()
	return s.eventDice, s.memSettings
}

type DebugSettingsView struct {
	EventDice EventDiceSettings
	Memory    MemorySettings
}

func (s *Service) GetDebugSettings() DebugSettingsView {
	dice, mem := s.debugSettings()
	return DebugSettingsView{EventDice: dice, Memory: mem}
}

type DebugSettingsPatch struct {
	EventDiceEnabled   *bool
	EventGoodProb      *float64
	EventBadProb       *float64
	EventRebelProb     *float64
	EventMinEvents     *int
	EventMaxEvents     *int
	MemoryMaxSnippets  *int
	MemoryMaxChars     *int
}

func (s *Service) PatchDebugSettings(p DebugSettingsPatch) DebugSettingsView {
	s.debugMu.Lock()
	defer s.debugMu.Unlock()
	if p.EventDiceEnabled != nil {
		s.eventDice.Enabled = *p.EventDiceEnabled
	}
	if p.EventGoodProb != nil {
		s.eventDice.GoodProb = *p.EventGoodProb
	}
	if p.EventBadProb != nil {
		s.eventDice.BadProb = *p.EventBadProb
	}
	if p.EventRebelProb != nil {
		s.eventDice.RebelProb = *p.EventRebelProb
	}
	if p.EventMinEvents != nil {
		s.eventDice.MinEvents = *p.EventMinEvents
	}
	if p.EventMaxEvents != nil {
		s.eventDice.MaxEvents = *p.EventMaxEvents
	}
	if p.MemoryMaxSnippets != nil {
		s.memSettings.MaxSnippets = *p.MemoryMaxSnippets
	}
	if p.MemoryMaxChars != nil {
		s.memSettings.MaxChars = *p.MemoryMaxChars
	}
	return DebugSettingsView{EventDice: s.eventDice, Memory: s.memSettings}
}
